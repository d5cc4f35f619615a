package services

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks UserStore,PasswordDecrypter

import (
	"context"

	"storefront/internal/domain"
)

// UserStore is the persistence the auth service needs. *repos.UserRepo
// satisfies it.
type UserStore interface {
	ByEmail(ctx context.Context, email string) (*domain.User, error)
	ByID(ctx context.Context, id int64) (*domain.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u *domain.User) error
}

// PasswordDecrypter turns the client's encrypted password field into text.
// *credentials.Codec satisfies it.
type PasswordDecrypter interface {
	Decrypt(ciphertextB64 string) (string, error)
}
