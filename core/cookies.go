package core

import (
	"net/http"
	"time"
)

const (
	RefreshTokenCookie = "refreshToken"
	oauthStateCookie   = "oauthState"
	oauthStateTTL      = 10 * time.Minute
)

// CookieWriter sets and clears the cookies owned by the server.
type CookieWriter struct {
	secure   bool
	sameSite http.SameSite
	domain   string
	maxAge   int
}

func NewCookieWriter(config CookieConfig, refreshTTL time.Duration) (*CookieWriter, error) {
	sameSite, err := parseSameSite(config.SameSite)
	if err != nil {
		return nil, err
	}
	return &CookieWriter{
		// Browsers drop SameSite=None cookies that are not Secure
		secure:   config.Secure || sameSite == http.SameSiteNoneMode,
		sameSite: sameSite,
		domain:   config.Domain,
		maxAge:   int(refreshTTL / time.Second),
	}, nil
}

func (c *CookieWriter) SetRefreshToken(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(RefreshTokenCookie, token, c.maxAge))
}

func (c *CookieWriter) ClearRefreshToken(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(RefreshTokenCookie, "", -1))
}

func (c *CookieWriter) SetOAuthState(w http.ResponseWriter, state string) {
	cookie := c.cookie(oauthStateCookie, state, int(oauthStateTTL/time.Second))
	// The provider redirect is a top-level cross-site navigation
	if cookie.SameSite == http.SameSiteStrictMode {
		cookie.SameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, cookie)
}

func (c *CookieWriter) ClearOAuthState(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(oauthStateCookie, "", -1))
}

func (c *CookieWriter) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite,
	}
}

func readCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
