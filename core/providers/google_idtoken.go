package providers

import (
	"context"
	"errors"
	"fmt"

	"sessiond/core"

	"google.golang.org/api/idtoken"
)

// GoogleIDTokenVerifier accepts ID tokens from Google Sign-In clients.
type GoogleIDTokenVerifier struct {
	clientID string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewGoogleIDTokenVerifier(clientID string) *GoogleIDTokenVerifier {
	return &GoogleIDTokenVerifier{
		clientID: clientID,
		validate: idtoken.Validate,
	}
}

func (v *GoogleIDTokenVerifier) VerifyIDToken(ctx context.Context, rawToken string) (*core.Profile, error) {
	if v.clientID == "" {
		return nil, fmt.Errorf("%w: google client id is not configured", core.ErrConfiguration)
	}

	payload, err := v.validate(ctx, rawToken, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderIDToken, err)
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderIDToken, errors.New("token has no subject"))
	}

	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	name, _ := payload.Claims["name"].(string)

	return googleProfile(payload.Subject, email, verified, name), nil
}

func (v *GoogleIDTokenVerifier) Provider() core.Provider {
	return core.ProviderGoogle
}
