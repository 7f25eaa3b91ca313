package core

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrProviderTokenExchange = errors.New("provider token exchange failed")
	ErrProviderUserInfo      = errors.New("provider user info request failed")
	ErrProviderIDToken       = errors.New("provider id token rejected")
)

// Profile is what an identity provider asserts about the user after
// provider-side authentication.
type Profile struct {
	ProviderUserID string
	Emails         []string
	DisplayName    string
}

// PrimaryEmail returns the first non-empty email, or "".
func (p *Profile) PrimaryEmail() string {
	for _, email := range p.Emails {
		if email = strings.TrimSpace(email); email != "" {
			return email
		}
	}
	return ""
}

// IdentityProvider runs the authorization-code flow against one provider.
type IdentityProvider interface {
	AuthCodeURL(state string) string

	Exchange(ctx context.Context, code string) (*Profile, error)

	Provider() Provider
}

// IDTokenVerifier validates a provider-signed ID token presented directly
// by the client.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawToken string) (*Profile, error)

	Provider() Provider
}
