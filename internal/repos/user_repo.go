package repos

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

// ErrEmailTaken is returned by Create when the unique email index rejects
// the insert.
var ErrEmailTaken = errors.New("email already registered")

type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

const userCols = `id, username, email, first_name, last_name, password_hash, is_staff, created_at`

func (r *UserRepo) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(`SELECT `+userCols+` FROM users WHERE LOWER(email)=LOWER(?)`), email)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) ByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.DB.GetContext(ctx, &u, r.DB.Rebind(`SELECT `+userCols+` FROM users WHERE id=?`), id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns users ordered by id, staff included.
func (r *UserRepo) List(ctx context.Context) ([]domain.User, error) {
	out := []domain.User{}
	err := r.DB.SelectContext(ctx, &out, `SELECT `+userCols+` FROM users ORDER BY id`)
	return out, err
}

// ByIDs loads the given users keyed by id; unknown ids are skipped.
func (r *UserRepo) ByIDs(ctx context.Context, ids []int64) (map[int64]*domain.User, error) {
	out := make(map[int64]*domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+userCols+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var users []domain.User
	if err := r.DB.SelectContext(ctx, &users, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (r *UserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, r.DB.Rebind(`SELECT COUNT(*) FROM users WHERE LOWER(email)=LOWER(?)`), email)
	return n > 0, err
}

// Create inserts u and fills its id. A concurrent duplicate registration
// surfaces as ErrEmailTaken.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	u.CreatedAt = time.Now().UTC()
	err := r.DB.QueryRowxContext(ctx, r.DB.Rebind(`
	  INSERT INTO users(username, email, first_name, last_name, password_hash, is_staff, created_at)
	  VALUES(?, ?, ?, ?, ?, ?, ?)
	  RETURNING id`),
		u.Username, u.Email, u.FirstName, u.LastName, u.Hash, u.IsStaff, u.CreatedAt).Scan(&u.ID)
	if err != nil && isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}
