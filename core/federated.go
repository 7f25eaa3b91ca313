package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxUsernameAttempts = 5

// Reconcile finds or creates the local user for a provider profile.
// Lookup order is provider ID, then email, then a new account. A matching
// email links the identity to the existing account, whatever its
// credentials.
func (s *AuthService) Reconcile(ctx context.Context, provider Provider, profile *Profile) (*User, error) {
	if profile == nil || profile.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: profile has no provider user id", ErrInvalidInput)
	}

	// 1. Already linked
	user, err := s.repo.FindByFederatedID(ctx, provider, profile.ProviderUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find user by provider id: %w", err)
	}

	// 2. Link by email
	email := profile.PrimaryEmail()
	if email != "" {
		user, err := s.linkByEmail(ctx, email, provider, profile.ProviderUserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		email = fmt.Sprintf("%s@%s.user", profile.ProviderUserID, provider)
	}

	// 3. New account
	return s.createFederatedUser(ctx, provider, profile, email)
}

// FederatedLogin reconciles the profile and issues a session for the result.
func (s *AuthService) FederatedLogin(ctx context.Context, provider Provider, profile *Profile) (*Session, error) {
	user, err := s.Reconcile(ctx, provider, profile)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user)
}

// LoginWithProvider completes an authorization-code callback.
func (s *AuthService) LoginWithProvider(ctx context.Context, provider Provider, code string) (*Session, error) {
	identityProvider, ok := s.providers[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}

	profile, err := identityProvider.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return s.FederatedLogin(ctx, provider, profile)
}

// LoginWithIDToken signs in with an ID token the client got from the provider.
func (s *AuthService) LoginWithIDToken(ctx context.Context, provider Provider, rawToken string) (*Session, error) {
	verifier, ok := s.verifiers[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	if rawToken == "" {
		return nil, ErrMissingToken
	}

	profile, err := verifier.VerifyIDToken(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	return s.FederatedLogin(ctx, provider, profile)
}

func (s *AuthService) AuthCodeURL(provider Provider, state string) (string, error) {
	identityProvider, ok := s.providers[provider]
	if !ok {
		return "", ErrUnsupportedProvider
	}
	return identityProvider.AuthCodeURL(state), nil
}

func (s *AuthService) linkByEmail(ctx context.Context, email string, provider Provider, providerUserID string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if err := s.repo.LinkFederatedIdentity(ctx, user.ID, provider, providerUserID); err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	if user.FederatedIdentities == nil {
		user.FederatedIdentities = map[Provider]string{}
	}
	user.FederatedIdentities[provider] = providerUserID

	s.logger.Info("federated identity linked by email",
		zap.String("user_id", user.ID.String()),
		zap.String("provider", string(provider)),
	)
	return user, nil
}

func (s *AuthService) createFederatedUser(ctx context.Context, provider Provider, profile *Profile, email string) (*User, error) {
	base := stripWhitespace(profile.DisplayName)
	if base == "" {
		base = stripWhitespace(profile.ProviderUserID)
	}

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := fmt.Sprintf("%s%d", base, s.usernameSuffix())
		now := s.now()
		user := &User{
			ID:                  uuid.New(),
			Email:               email,
			Username:            &username,
			FederatedIdentities: map[Provider]string{provider: profile.ProviderUserID},
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		err := s.repo.CreateUser(ctx, user)
		switch {
		case err == nil:
			s.logger.Info("user created from federated identity",
				zap.String("user_id", user.ID.String()),
				zap.String("provider", string(provider)),
			)
			return user, nil

		case errors.Is(err, ErrUsernameTaken):
			continue

		case errors.Is(err, ErrIdentityLinked):
			// A concurrent callback for the same identity won the insert
			return s.repo.FindByFederatedID(ctx, provider, profile.ProviderUserID)

		case errors.Is(err, ErrDuplicateEmail):
			// The email was registered between lookup and insert
			return s.linkByEmail(ctx, email, provider, profile.ProviderUserID)

		default:
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to create user after %d attempts: %w", maxUsernameAttempts, ErrUsernameTaken)
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
