package core

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrMissingToken       = errors.New("missing token")
	ErrAccessDenied       = errors.New("access denied")
	ErrConfiguration      = errors.New("configuration error")
)

// ErrInvalidToken covers every reason a token is unusable. The narrower
// sentinels below wrap it, so errors.Is(err, ErrInvalidToken) holds for all.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidSignature = fmt.Errorf("%w: signature verification failed", ErrInvalidToken)
	ErrExpiredToken     = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrWrongTokenKind   = fmt.Errorf("%w: unexpected token kind", ErrInvalidToken)
	ErrTokenNotInSet    = fmt.Errorf("%w: token not found", ErrInvalidToken)
)
