package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/apperr"
	"storefront/internal/domain"
	"storefront/internal/repos"
	"storefront/internal/tokens"
	"storefront/internal/validate"
)

var (
	ErrBadCreds          = apperr.New(apperr.CodeUnauthenticated, "Invalid credentials")
	ErrNoPassword        = apperr.New(apperr.CodeInvalidRequest, "No password provided")
	ErrNoRefreshToken    = apperr.New(apperr.CodeUnauthenticated, "No refresh token cookie")
	ErrBadRefreshToken   = apperr.New(apperr.CodeUnauthenticated, "Invalid refresh token")
	ErrEmailRegistered   = apperr.New(apperr.CodeConflict, "Email already registered")
	ErrNotAuthenticated  = apperr.New(apperr.CodeUnauthenticated, "Authentication credentials were not provided.")
	ErrInvalidAccessUser = apperr.New(apperr.CodeUnauthenticated, "User not found")
)

type AuthService struct {
	Users      UserStore
	Codec      PasswordDecrypter
	Tokens     *tokens.Issuer
	BcryptCost int

	dummyOnce sync.Once
	dummyHash []byte
}

// Login decrypts the password and checks it against the stored hash. Unknown
// emails still run a bcrypt comparison so both failures take similar time.
func (s *AuthService) Login(ctx context.Context, email, encryptedPassword string) (tokens.Pair, *domain.User, error) {
	ctx, span := startSpan(ctx, "auth.login")
	var err error
	defer func() { endSpan(span, err) }()

	if encryptedPassword == "" {
		err = ErrNoPassword
		return tokens.Pair{}, nil, err
	}
	password, err := s.Codec.Decrypt(encryptedPassword)
	if err != nil {
		return tokens.Pair{}, nil, err
	}

	u, err := s.Users.ByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		err = ErrBadCreds
		return tokens.Pair{}, nil, err
	}
	if err != nil {
		return tokens.Pair{}, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		err = ErrBadCreds
		return tokens.Pair{}, nil, err
	}

	span.SetAttributes(attribute.Int64("user.id", u.ID))
	pair, err := s.Tokens.IssuePair(u.ID)
	if err != nil {
		return tokens.Pair{}, nil, err
	}
	return pair, u, nil
}

// Refresh exchanges a valid refresh token for a new pair. The user must
// still exist.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (tokens.Pair, error) {
	ctx, span := startSpan(ctx, "auth.refresh")
	var err error
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		err = ErrNoRefreshToken
		return tokens.Pair{}, err
	}
	claims, err := s.Tokens.Validate(refreshToken, tokens.TypeRefresh)
	if err != nil {
		err = apperr.Wrap(err, apperr.CodeUnauthenticated, ErrBadRefreshToken.Error())
		return tokens.Pair{}, err
	}
	uid, _ := claims.UserID()
	if _, err = s.Users.ByID(ctx, uid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrBadRefreshToken
		}
		return tokens.Pair{}, err
	}
	pair, err := s.Tokens.IssuePair(uid)
	return pair, err
}

// Authenticate resolves a Bearer access token to its user.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*domain.User, error) {
	if accessToken == "" {
		return nil, ErrNotAuthenticated
	}
	claims, err := s.Tokens.Validate(accessToken, tokens.TypeAccess)
	if err != nil {
		return nil, err
	}
	uid, _ := claims.UserID()
	u, err := s.Users.ByID(ctx, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidAccessUser
	}
	return u, err
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a non-staff user.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	ctx, span := startSpan(ctx, "auth.register")
	var err error
	defer func() { endSpan(span, err) }()

	var u *domain.User
	u, err = s.newUser(in)
	if err != nil {
		return nil, err
	}
	exists, err := s.Users.EmailExists(ctx, u.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		err = ErrEmailRegistered
		return nil, err
	}
	if err = s.Users.Create(ctx, u); err != nil {
		if errors.Is(err, repos.ErrEmailTaken) {
			err = ErrEmailRegistered
		}
		return nil, err
	}
	return u, nil
}

func (s *AuthService) newUser(in RegisterInput) (*domain.User, error) {
	username, ok := validate.Username(in.Username)
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidRequest, "Invalid username")
	}
	email, ok := validate.Email(in.Email)
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidRequest, "Invalid email")
	}
	if !validate.Password(in.Password) {
		return nil, apperr.New(apperr.CodeInvalidRequest,
			"Password must be 8-72 characters with upper and lower case letters, a digit and a symbol")
	}
	first, ok1 := validate.Name(in.FirstName)
	last, ok2 := validate.Name(in.LastName)
	if !ok1 || !ok2 {
		return nil, apperr.New(apperr.CodeInvalidRequest, "Name too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost())
	if err != nil {
		return nil, err
	}
	return &domain.User{
		Username:  username,
		Email:     email,
		FirstName: first,
		LastName:  last,
		Hash:      string(hash),
	}, nil
}

func (s *AuthService) cost() int {
	if s.BcryptCost == 0 {
		return bcrypt.DefaultCost
	}
	return s.BcryptCost
}

func (s *AuthService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), s.cost())
	})
	return s.dummyHash
}
