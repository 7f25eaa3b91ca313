package core

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// authSchemes lists the accepted Authorization prefixes in order.
// "JWT" is kept for older clients.
var authSchemes = []string{"Bearer", "JWT"}

// Authenticate resolves the request principal from the Authorization header
// or, failing that, the refresh token cookie. Requests with neither are
// rejected with 401 access_denied.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.resolvePrincipal(r)
		if err != nil {
			if !errors.Is(err, ErrAccessDenied) && !errors.Is(err, ErrInvalidToken) {
				s.logger.Error("failed to authenticate request", zap.Error(err))
			}
			respondError(w, http.StatusUnauthorized, "access_denied", "Access denied")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func (s *Server) resolvePrincipal(r *http.Request) (uuid.UUID, error) {
	// 1. Authorization header
	if token := extractHeaderToken(r); token != "" {
		return s.authService.AuthenticateAccessToken(token)
	}

	// 2. Refresh token cookie, read but never rotated
	if token := readCookie(r, RefreshTokenCookie); token != "" {
		return s.authService.AuthenticateRefreshCookie(r.Context(), token)
	}

	return uuid.Nil, ErrAccessDenied
}

func extractHeaderToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok {
		return ""
	}

	for _, accepted := range authSchemes {
		if scheme == accepted {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs request metadata only. Bodies, cookies and
// headers carry credentials and are never logged.
func LoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("dur", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

// RecoverMiddleware turns a handler panic into a 500 response.
func RecoverMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
