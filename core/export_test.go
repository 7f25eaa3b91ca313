package core

import "time"

// SetUsernameSuffix replaces the random username suffix source.
func (s *AuthService) SetUsernameSuffix(f func() int) {
	s.usernameSuffix = f
}

// SetClock replaces the token service clock.
func (ts *TokenService) SetClock(now func() time.Time) {
	ts.now = now
}
