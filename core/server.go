package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LoginResponse carries the access token under both access_token and
// accessToken; browser clients read the camelCase name.
type LoginResponse struct {
	AccessToken      string      `json:"access_token"`
	AccessTokenCamel string      `json:"accessToken"`
	RefreshToken     string      `json:"refresh_token"`
	ExpiresIn        int64       `json:"expires_in"`
	User             *PublicUser `json:"user,omitempty"`
}

// refreshTokenRequest accepts refresh_token and its camelCase alias.
type refreshTokenRequest struct {
	RefreshToken      string `json:"refresh_token"`
	RefreshTokenCamel string `json:"refreshToken"`
}

func (r refreshTokenRequest) token() string {
	if r.RefreshToken != "" {
		return r.RefreshToken
	}
	return r.RefreshTokenCamel
}

type Server struct {
	authService *AuthService
	config      *Config
	cookies     *CookieWriter
	logger      *zap.Logger
}

func NewServer(authService *AuthService, config *Config, logger *zap.Logger) (*Server, error) {
	cookies, err := NewCookieWriter(config.Cookie, authService.Tokens().RefreshTTL())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		authService: authService,
		config:      config,
		cookies:     cookies,
		logger:      logger,
	}, nil
}

// Routes returns the full handler tree. Logging wraps recovery so that
// requests that panic are still logged with their 500.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.HandleRegister)
	mux.HandleFunc("POST /auth/login", s.HandleLogin)
	mux.HandleFunc("POST /auth/refresh", s.HandleRefresh)
	mux.HandleFunc("POST /auth/logout", s.HandleLogout)
	mux.Handle("POST /auth/logout-all", s.Authenticate(http.HandlerFunc(s.HandleLogoutAll)))
	mux.Handle("GET /auth/user", s.Authenticate(http.HandlerFunc(s.HandleCurrentUser)))
	mux.Handle("PUT /auth/profile", s.Authenticate(http.HandlerFunc(s.HandleUpdateProfile)))

	mux.HandleFunc("GET /auth/{provider}", s.HandleOAuthStart)
	mux.HandleFunc("GET /auth/{provider}/callback", s.HandleOAuthCallback)
	mux.HandleFunc("POST /auth/{provider}/token", s.HandleIDTokenLogin)

	mux.HandleFunc("GET /health", s.HandleHealth)

	return LoggingMiddleware(s.logger)(RecoverMiddleware(s.logger)(mux))
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.authService.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		s.respondAuthError(w, err)
		return
	}

	s.cookies.SetRefreshToken(w, session.Tokens.RefreshToken)
	respondJSON(w, http.StatusCreated, newLoginResponse(session))
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondAuthError(w, err)
		return
	}

	s.cookies.SetRefreshToken(w, session.Tokens.RefreshToken)
	respondJSON(w, http.StatusOK, newLoginResponse(session))
}

func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := s.presentedRefreshToken(w, r)
	if !ok {
		return
	}

	pair, err := s.authService.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.cookies.ClearRefreshToken(w)
		}
		s.respondAuthError(w, err)
		return
	}

	s.cookies.SetRefreshToken(w, pair.RefreshToken)
	respondJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := readCookie(r, RefreshTokenCookie)
	if token == "" {
		var req refreshTokenRequest
		// Logout reports success whatever the body holds
		_ = json.NewDecoder(r.Body).Decode(&req)
		token = req.token()
	}

	s.authService.Logout(r.Context(), token)

	s.cookies.ClearRefreshToken(w)
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

func (s *Server) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "access_denied", "Access denied")
		return
	}

	if err := s.authService.LogoutAll(r.Context(), userID); err != nil {
		s.respondAuthError(w, err)
		return
	}

	s.cookies.ClearRefreshToken(w)
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "logged_out_all_devices",
	})
}

func (s *Server) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "access_denied", "Access denied")
		return
	}

	user, err := s.authService.CurrentUser(r.Context(), userID)
	if err != nil {
		s.respondAuthError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user.Public())
}

func (s *Server) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "access_denied", "Access denied")
		return
	}

	var req struct {
		Username string `json:"username"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.authService.UpdateProfile(r.Context(), userID, req.Username)
	if err != nil {
		s.respondAuthError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user.Public())
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Helper functions

// presentedRefreshToken reads the refresh token from the cookie, falling
// back to a JSON body with a refresh_token or refreshToken field.
func (s *Server) presentedRefreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if token := readCookie(r, RefreshTokenCookie); token != "" {
		return token, true
	}

	var req refreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return "", false
	}
	return req.token(), true
}

func (s *Server) respondAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request")
	case errors.Is(err, ErrDuplicateEmail):
		respondError(w, http.StatusConflict, "email_taken", "User with this email already exists")
	case errors.Is(err, ErrUsernameTaken):
		respondError(w, http.StatusConflict, "username_taken", "Username is already taken")
	case errors.Is(err, ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Wrong email or password")
	case errors.Is(err, ErrMissingToken):
		respondError(w, http.StatusUnauthorized, "missing_token", "Refresh token is required")
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrProviderIDToken):
		respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
	case errors.Is(err, ErrAccessDenied):
		respondError(w, http.StatusUnauthorized, "access_denied", "Access denied")
	case errors.Is(err, ErrUnsupportedProvider):
		respondError(w, http.StatusNotFound, "invalid_provider", "Unsupported provider")
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func newLoginResponse(session *Session) LoginResponse {
	user := session.User.Public()
	resp := newTokenResponse(session.Tokens)
	resp.User = &user
	return resp
}

func newTokenResponse(pair *TokenPair) LoginResponse {
	return LoginResponse{
		AccessToken:      pair.AccessToken,
		AccessTokenCamel: pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresIn:        expiresIn(pair),
	}
}

func expiresIn(pair *TokenPair) int64 {
	return int64(time.Until(pair.AccessExpiresAt).Round(time.Second) / time.Second)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
