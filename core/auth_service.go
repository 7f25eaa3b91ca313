package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the outcome of register, login and federated login.
type Session struct {
	User   *User
	Tokens *TokenPair
}

type AuthService struct {
	repo      Repository
	tokens    *TokenService
	logger    *zap.Logger
	providers map[Provider]IdentityProvider
	verifiers map[Provider]IDTokenVerifier

	statelessCookieFallback bool
	usernameSuffix          func() int
	now                     func() time.Time
}

func NewAuthService(
	repo Repository,
	tokens *TokenService,
	config *Config,
	providers map[Provider]IdentityProvider,
	verifiers map[Provider]IDTokenVerifier,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		repo:                    repo,
		tokens:                  tokens,
		logger:                  logger,
		providers:               providers,
		verifiers:               verifiers,
		statelessCookieFallback: config.StatelessCookieFallback,
		usernameSuffix:          func() int { return rand.IntN(10000) },
		now:                     time.Now,
	}
}

func (s *AuthService) Tokens() *TokenService {
	return s.tokens
}

func (s *AuthService) Register(ctx context.Context, email, username, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)

	// 1. Validate input
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if len(password) > MaxPasswordBytes {
		return nil, fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, MaxPasswordBytes)
	}

	// 2. Reject known emails before paying for the hash
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// 3. Hash the password before anything is persisted
	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &User{
		ID:                  uuid.New(),
		Email:               email,
		PasswordHash:        &passwordHash,
		FederatedIdentities: map[Provider]string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if username != "" {
		user.Username = &username
	}

	// 4. Persist; the store is the final word on uniqueness
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrUsernameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))

	// 5. Login-equivalent token issuance
	return s.issueSession(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			VerifyPassword(password, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// OAuth-only accounts have no hash and fail the same way
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(ctx, user)
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted at most once.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	if presented == "" {
		return nil, ErrMissingToken
	}

	// 1. Signature, expiry and kind
	claims, err := s.tokens.VerifyKind(presented, TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	// 2. Mint the replacement before touching the set
	pair, err := s.tokens.IssuePair(claims.UserID)
	if err != nil {
		return nil, err
	}

	next := &RefreshToken{
		TokenHash: HashRefreshToken(pair.RefreshToken),
		UserID:    claims.UserID,
		CreatedAt: s.now(),
		ExpiresAt: pair.RefreshExpiresAt,
	}

	// 3. Swap old for new in one conditional update
	if err := s.repo.RotateRefreshToken(ctx, claims.UserID, HashRefreshToken(presented), next); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("refresh token not in session set",
				zap.String("user_id", claims.UserID.String()),
				zap.String("jti", claims.ID),
			)
			return nil, ErrTokenNotInSet
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return pair, nil
}

// Logout revokes one refresh token. It reports nothing to the caller.
func (s *AuthService) Logout(ctx context.Context, presented string) {
	if presented == "" {
		return
	}

	deleted, err := s.repo.DeleteRefreshToken(ctx, HashRefreshToken(presented))
	if err != nil {
		s.logger.Error("failed to delete refresh token", zap.Error(err))
		return
	}
	if deleted {
		s.logger.Debug("refresh token revoked")
	}
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	count, err := s.repo.DeleteAllUserRefreshTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user refresh tokens: %w", err)
	}

	s.logger.Info("all sessions revoked",
		zap.String("user_id", userID.String()),
		zap.Int64("count", count),
	)
	return nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// UpdateProfile changes the username of userID and returns the updated user.
func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	if err := s.repo.UpdateUsername(ctx, userID, username); err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			return nil, ErrUsernameTaken
		case errors.Is(err, ErrNotFound):
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("failed to update username: %w", err)
	}

	s.logger.Info("profile updated", zap.String("user_id", userID.String()))

	return s.CurrentUser(ctx, userID)
}

// AuthenticateAccessToken resolves the subject of a bearer access token.
func (s *AuthService) AuthenticateAccessToken(token string) (uuid.UUID, error) {
	claims, err := s.tokens.VerifyKind(token, TokenKindAccess)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}

// AuthenticateRefreshCookie resolves the subject of a refresh token carried
// in a cookie without consuming it. Unless the stateless fallback is
// enabled, the token must still be in the user's session set.
func (s *AuthService) AuthenticateRefreshCookie(ctx context.Context, token string) (uuid.UUID, error) {
	claims, err := s.tokens.VerifyKind(token, TokenKindRefresh)
	if err != nil {
		return uuid.Nil, err
	}

	if s.statelessCookieFallback {
		return claims.UserID, nil
	}

	ok, err := s.repo.HasRefreshToken(ctx, claims.UserID, HashRefreshToken(token))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check refresh token: %w", err)
	}
	if !ok {
		return uuid.Nil, ErrTokenNotInSet
	}

	return claims.UserID, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *User) (*Session, error) {
	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, err
	}

	refreshToken := &RefreshToken{
		TokenHash: HashRefreshToken(pair.RefreshToken),
		UserID:    user.ID,
		CreatedAt: s.now(),
		ExpiresAt: pair.RefreshExpiresAt,
	}

	if err := s.repo.AddRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return &Session{User: user, Tokens: pair}, nil
}
