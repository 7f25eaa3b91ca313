package core

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAccessTokenDuration  = 15 * 60          // 15 minutes
	DefaultRefreshTokenDuration = 7 * 24 * 60 * 60 // 7 days
)

type Config struct {
	JWT    JWTConfig    `yaml:"jwt"`
	Cookie CookieConfig `yaml:"cookie"`

	// FrontendURL is where OAuth callbacks redirect the browser after login
	FrontendURL string `yaml:"frontend_url"`

	// StatelessCookieFallback lets the middleware accept a refresh cookie on
	// signature and expiry alone, without checking it is still in the
	// user's session set.
	StatelessCookieFallback bool `yaml:"stateless_cookie_fallback"`
}

type JWTConfig struct {
	Secret               string `yaml:"secret"`                 // Secret key for signing JWT tokens
	AccessTokenDuration  int    `yaml:"access_token_duration"`  // Access token lifetime in seconds
	RefreshTokenDuration int    `yaml:"refresh_token_duration"` // Refresh token lifetime in seconds
}

type CookieConfig struct {
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"` // lax, strict or none
	Domain   string `yaml:"domain"`
}

func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenDuration) * time.Second
}

func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenDuration) * time.Second
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.JWT.AccessTokenDuration <= 0 {
		c.JWT.AccessTokenDuration = DefaultAccessTokenDuration
	}
	if c.JWT.RefreshTokenDuration <= 0 {
		c.JWT.RefreshTokenDuration = DefaultRefreshTokenDuration
	}
	if c.Cookie.SameSite == "" {
		c.Cookie.SameSite = "lax"
	}
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
}

func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("%w: jwt secret is not set", ErrConfiguration)
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		return err
	}
	return nil
}

func parseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(value) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%w: unsupported same_site value %q", ErrConfiguration, value)
	}
}
