package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Kind   TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenPair is the result of every login-equivalent operation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService refuses to build a service without a signing secret.
func NewTokenService(config JWTConfig) (*TokenService, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("%w: jwt secret is not set", ErrConfiguration)
	}

	accessTTL := config.AccessTTL()
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenDuration * time.Second
	}
	refreshTTL := config.RefreshTTL()
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenDuration * time.Second
	}

	return &TokenService{
		secret:     []byte(config.Secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

func (ts *TokenService) RefreshTTL() time.Duration {
	return ts.refreshTTL
}

func (ts *TokenService) IssueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	return ts.issue(userID, TokenKindAccess, ts.accessTTL)
}

func (ts *TokenService) IssueRefreshToken(userID uuid.UUID) (string, time.Time, error) {
	return ts.issue(userID, TokenKindRefresh, ts.refreshTTL)
}

func (ts *TokenService) IssuePair(userID uuid.UUID) (*TokenPair, error) {
	accessToken, accessExp, err := ts.IssueAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, refreshExp, err := ts.IssueRefreshToken(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (ts *TokenService) issue(userID uuid.UUID, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	now := ts.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signedToken, expiresAt, nil
}

// Verify checks signature and expiry. It does not consult the session set.
func (ts *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return ts.secret, nil
	}, jwt.WithTimeFunc(ts.now), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidSignature
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}

// VerifyKind is Verify plus a check on the token kind.
func (ts *TokenService) VerifyKind(tokenString string, kind TokenKind) (*Claims, error) {
	claims, err := ts.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}
