package core

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// HandleOAuthStart sends the browser to the provider consent page.
func (s *Server) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := Provider(r.PathValue("provider"))

	state, err := GenerateState()
	if err != nil {
		s.respondAuthError(w, err)
		return
	}

	authURL, err := s.authService.AuthCodeURL(provider, state)
	if err != nil {
		s.respondAuthError(w, err)
		return
	}

	s.cookies.SetOAuthState(w, state)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleOAuthCallback finishes the authorization-code flow. The browser
// always ends up on the frontend, with either an access token or an error.
func (s *Server) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := Provider(r.PathValue("provider"))
	query := r.URL.Query()

	expectedState := readCookie(r, oauthStateCookie)
	s.cookies.ClearOAuthState(w)

	if providerErr := query.Get("error"); providerErr != "" {
		s.redirectOAuthFailure(w, r, provider, errors.New("provider returned error: "+providerErr))
		return
	}

	state := query.Get("state")
	if expectedState == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
		s.redirectOAuthFailure(w, r, provider, errors.New("oauth state mismatch"))
		return
	}

	code := query.Get("code")
	if code == "" {
		s.redirectOAuthFailure(w, r, provider, errors.New("missing authorization code"))
		return
	}

	session, err := s.authService.LoginWithProvider(r.Context(), provider, code)
	if err != nil {
		s.redirectOAuthFailure(w, r, provider, err)
		return
	}

	s.cookies.SetRefreshToken(w, session.Tokens.RefreshToken)

	target := s.config.FrontendURL + "/oauth-success?" + url.Values{
		"accessToken": {session.Tokens.AccessToken},
	}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleIDTokenLogin signs in with a provider ID token posted by the client.
func (s *Server) HandleIDTokenLogin(w http.ResponseWriter, r *http.Request) {
	provider := Provider(r.PathValue("provider"))

	var req struct {
		IDToken string `json:"id_token"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.authService.LoginWithIDToken(r.Context(), provider, req.IDToken)
	if err != nil {
		s.respondAuthError(w, err)
		return
	}

	s.cookies.SetRefreshToken(w, session.Tokens.RefreshToken)
	respondJSON(w, http.StatusOK, newLoginResponse(session))
}

func (s *Server) redirectOAuthFailure(w http.ResponseWriter, r *http.Request, provider Provider, err error) {
	s.logger.Warn("oauth callback failed",
		zap.String("provider", string(provider)),
		zap.Error(err),
	)

	target := s.config.FrontendURL + "/login?" + url.Values{
		"error": {"Authentication failed"},
	}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}
