package core

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrIdentityLinked      = errors.New("federated identity already linked to another user")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Repository is the credential store. Implementations map uniqueness
// violations to ErrDuplicateEmail, ErrUsernameTaken and ErrIdentityLinked.
type Repository interface {
	// User operations

	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	FindByEmail(ctx context.Context, email string) (*User, error)

	FindByFederatedID(ctx context.Context, provider Provider, providerUserID string) (*User, error)

	CreateUser(ctx context.Context, user *User) error

	LinkFederatedIdentity(ctx context.Context, userID uuid.UUID, provider Provider, providerUserID string) error

	UpdateUsername(ctx context.Context, userID uuid.UUID, username string) error

	// RefreshToken operations. Tokens are addressed by digest.

	AddRefreshToken(ctx context.Context, token *RefreshToken) error

	// RotateRefreshToken removes oldHash from the user's set and inserts next
	// as a single atomic step. It returns ErrNotFound, and inserts nothing,
	// when oldHash is not in the set.
	RotateRefreshToken(ctx context.Context, userID uuid.UUID, oldHash string, next *RefreshToken) error

	HasRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error)

	DeleteRefreshToken(ctx context.Context, tokenHash string) (bool, error)

	DeleteAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error)

	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
}
