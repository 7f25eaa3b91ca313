package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{FrontendURL: "https://app.test/"}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultAccessTokenDuration, cfg.JWT.AccessTokenDuration)
	assert.Equal(t, DefaultRefreshTokenDuration, cfg.JWT.RefreshTokenDuration)
	assert.Equal(t, "lax", cfg.Cookie.SameSite)
	assert.Equal(t, "https://app.test", cfg.FrontendURL)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)

	cfg.JWT.Secret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.Cookie.SameSite = "sometimes"
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)
}
