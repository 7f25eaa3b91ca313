package providers

import (
	"context"
	"errors"
	"testing"

	"sessiond/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"
)

func stubVerifier(payload *idtoken.Payload, err error) *GoogleIDTokenVerifier {
	v := NewGoogleIDTokenVerifier("client.apps.googleusercontent.com")
	v.validate = func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
		if audience != "client.apps.googleusercontent.com" {
			return nil, errors.New("audience mismatch")
		}
		return payload, err
	}
	return v
}

func TestGoogleIDTokenVerifier(t *testing.T) {
	v := stubVerifier(&idtoken.Payload{
		Subject: "g-9",
		Claims: map[string]interface{}{
			"email":          "id@gmail.test",
			"email_verified": true,
			"name":           "Id User",
		},
	}, nil)

	profile, err := v.VerifyIDToken(context.Background(), "raw")
	require.NoError(t, err)

	assert.Equal(t, "g-9", profile.ProviderUserID)
	assert.Equal(t, []string{"id@gmail.test"}, profile.Emails)
	assert.Equal(t, "Id User", profile.DisplayName)
	assert.Equal(t, core.ProviderGoogle, v.Provider())
}

func TestGoogleIDTokenVerifier_UnverifiedEmail(t *testing.T) {
	v := stubVerifier(&idtoken.Payload{
		Subject: "g-9",
		Claims:  map[string]interface{}{"email": "id@gmail.test"},
	}, nil)

	profile, err := v.VerifyIDToken(context.Background(), "raw")
	require.NoError(t, err)
	assert.Empty(t, profile.Emails)
}

func TestGoogleIDTokenVerifier_Rejected(t *testing.T) {
	v := stubVerifier(nil, errors.New("idtoken: token expired"))

	_, err := v.VerifyIDToken(context.Background(), "raw")
	assert.ErrorIs(t, err, core.ErrProviderIDToken)
}

func TestGoogleIDTokenVerifier_NoSubject(t *testing.T) {
	v := stubVerifier(&idtoken.Payload{Claims: map[string]interface{}{}}, nil)

	_, err := v.VerifyIDToken(context.Background(), "raw")
	assert.ErrorIs(t, err, core.ErrProviderIDToken)
}

func TestGoogleIDTokenVerifier_NotConfigured(t *testing.T) {
	v := NewGoogleIDTokenVerifier("")

	_, err := v.VerifyIDToken(context.Background(), "raw")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
