package core

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Provider represents an external identity provider
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// User represents one account. Either PasswordHash or at least one
// federated identity is always present.
type User struct {
	ID                  uuid.UUID
	Email               string
	Username            *string // Nullable, unique among present values
	PasswordHash        *string // Nullable for accounts created through a provider
	FederatedIdentities map[Provider]string
	RefreshTokens       []RefreshToken
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasCredential reports whether the user can authenticate at all.
func (u *User) HasCredential() bool {
	return u.PasswordHash != nil || len(u.FederatedIdentities) > 0
}

// RefreshToken is one member of a user's session set. Only the digest
// of the issued token is kept.
type RefreshToken struct {
	TokenHash string
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PublicUser is the user view returned to clients.
type PublicUser struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username,omitempty"`
	Providers []Provider `json:"providers,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (u *User) Public() PublicUser {
	pub := PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
	if u.Username != nil {
		pub.Username = *u.Username
	}
	for provider := range u.FederatedIdentities {
		pub.Providers = append(pub.Providers, provider)
	}
	slices.Sort(pub.Providers)
	return pub
}
