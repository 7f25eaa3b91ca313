package core_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"sessiond/core"
	"sessiond/core/providers"
	"sessiond/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *core.Config {
	cfg := &core.Config{
		JWT: core.JWTConfig{
			Secret:               "test-secret-key-for-testing-purposes-only",
			AccessTokenDuration:  900,
			RefreshTokenDuration: 604800,
		},
		FrontendURL: "https://app.test",
	}
	cfg.ApplyDefaults()
	return cfg
}

func setupAuthService(t *testing.T) (*core.AuthService, *storage.MemoryRepository) {
	t.Helper()
	return setupAuthServiceWithConfig(t, testConfig())
}

func setupAuthServiceWithConfig(t *testing.T, cfg *core.Config) (*core.AuthService, *storage.MemoryRepository) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	tokens, err := core.NewTokenService(cfg.JWT)
	require.NoError(t, err)

	providerMap := map[core.Provider]core.IdentityProvider{
		providers.ProviderMock: providers.NewMockProvider(),
	}
	service := core.NewAuthService(repo, tokens, cfg, providerMap, nil, zaptest.NewLogger(t))
	return service, repo
}

func TestRegister_Success(t *testing.T) {
	service, repo := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	assert.NotEmpty(t, session.Tokens.AccessToken)
	assert.NotEmpty(t, session.Tokens.RefreshToken)
	assert.NotEqual(t, session.Tokens.AccessToken, session.Tokens.RefreshToken)
	assert.Equal(t, "u@test.com", session.User.Email)
	require.NotNil(t, session.User.Username)
	assert.Equal(t, "u1", *session.User.Username)

	stored, err := repo.FindByEmail(ctx, "u@test.com")
	require.NoError(t, err)
	require.NotNil(t, stored.PasswordHash)
	assert.NotEqual(t, "pw123456", *stored.PasswordHash)
	require.Len(t, stored.RefreshTokens, 1)
	assert.Equal(t, core.HashRefreshToken(session.Tokens.RefreshToken), stored.RefreshTokens[0].TokenHash)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	_, err = service.Register(ctx, "u@test.com", "u2", "other-password")
	assert.ErrorIs(t, err, core.ErrDuplicateEmail)
}

func TestRegister_UsernameTaken(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "a@test.com", "same", "pw123456")
	require.NoError(t, err)

	_, err = service.Register(ctx, "b@test.com", "same", "pw123456")
	assert.ErrorIs(t, err, core.ErrUsernameTaken)
}

func TestRegister_OptionalUsername(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	first, err := service.Register(ctx, "a@test.com", "", "pw123456")
	require.NoError(t, err)
	assert.Nil(t, first.User.Username)

	_, err = service.Register(ctx, "b@test.com", "  ", "pw123456")
	assert.NoError(t, err)
}

func TestRegister_InvalidInput(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	cases := []struct {
		name, email, password string
	}{
		{"missing email", "", "pw123456"},
		{"missing password", "u@test.com", ""},
		{"password too long", "u@test.com", string(make([]byte, core.MaxPasswordBytes+1))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Register(ctx, tc.email, "u", tc.password)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}
}

func TestLogin_Success_DistinctPairs(t *testing.T) {
	service, repo := setupAuthService(t)
	ctx := context.Background()

	registered, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	first, err := service.Login(ctx, "u@test.com", "pw123456")
	require.NoError(t, err)
	second, err := service.Login(ctx, "u@test.com", "pw123456")
	require.NoError(t, err)

	assert.Equal(t, registered.User.ID, first.User.ID)
	assert.NotEqual(t, first.Tokens.AccessToken, second.Tokens.AccessToken)
	assert.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
	assert.NotEqual(t, registered.Tokens.RefreshToken, first.Tokens.RefreshToken)

	// Earlier sessions stay valid
	stored, err := repo.FindByID(ctx, registered.User.ID)
	require.NoError(t, err)
	assert.Len(t, stored.RefreshTokens, 3)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	_, err = service.Login(ctx, "u@test.com", "wrong")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)

	_, err = service.Login(ctx, "nobody@test.com", "pw123456")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestLogin_FederatedOnlyAccount(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	_, err := service.FederatedLogin(ctx, core.ProviderGoogle, &core.Profile{
		ProviderUserID: "g-1",
		Emails:         []string{"oauth@test.com"},
		DisplayName:    "OAuth User",
	})
	require.NoError(t, err)

	_, err = service.Login(ctx, "oauth@test.com", "")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestRefresh_SingleUse(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)
	tokenA := session.Tokens.RefreshToken

	pairB, err := service.Refresh(ctx, tokenA)
	require.NoError(t, err)
	assert.NotEqual(t, tokenA, pairB.RefreshToken)
	assert.NotEmpty(t, pairB.AccessToken)

	_, err = service.Refresh(ctx, tokenA)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	assert.ErrorIs(t, err, core.ErrTokenNotInSet)

	// The rotated token still works exactly once
	pairC, err := service.Refresh(ctx, pairB.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pairC.RefreshToken)
}

func TestRefresh_MissingToken(t *testing.T) {
	service, _ := setupAuthService(t)

	_, err := service.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrMissingToken)
}

func TestRefresh_InvalidToken(t *testing.T) {
	service, _ := setupAuthService(t)

	_, err := service.Refresh(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	_, err = service.Refresh(ctx, session.Tokens.AccessToken)
	assert.ErrorIs(t, err, core.ErrWrongTokenKind)
}

func TestRefresh_ConcurrentReplay(t *testing.T) {
	service, repo := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Refresh(ctx, session.Tokens.RefreshToken)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, core.ErrInvalidToken):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
	// Every attempt reached the store; the store let one through
	assert.Equal(t, workers, repo.RotateCalls)
}

func TestLogout_OnlyTargetedSession(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	phone, err := service.Login(ctx, "u@test.com", "pw123456")
	require.NoError(t, err)
	laptop, err := service.Login(ctx, "u@test.com", "pw123456")
	require.NoError(t, err)

	service.Logout(ctx, phone.Tokens.RefreshToken)

	_, err = service.Refresh(ctx, phone.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	_, err = service.Refresh(ctx, laptop.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestLogout_Idempotent(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		service.Logout(ctx, session.Tokens.RefreshToken)
		service.Logout(ctx, session.Tokens.RefreshToken)
		service.Logout(ctx, "garbage")
		service.Logout(ctx, "")
	})
}

func TestLogoutAll(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	first, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)
	second, err := service.Login(ctx, "u@test.com", "pw123456")
	require.NoError(t, err)

	other, err := service.Register(ctx, "o@test.com", "o1", "pw123456")
	require.NoError(t, err)

	require.NoError(t, service.LogoutAll(ctx, first.User.ID))

	_, err = service.Refresh(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	_, err = service.Refresh(ctx, second.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	_, err = service.Refresh(ctx, other.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestCurrentUser(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	user, err := service.CurrentUser(ctx, session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "u@test.com", user.Email)

	_, err = service.CurrentUser(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrAccessDenied)
}

func TestUpdateProfile(t *testing.T) {
	service, _ := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)
	_, err = service.Register(ctx, "o@test.com", "taken", "pw123456")
	require.NoError(t, err)

	user, err := service.UpdateProfile(ctx, session.User.ID, "  renamed ")
	require.NoError(t, err)
	require.NotNil(t, user.Username)
	assert.Equal(t, "renamed", *user.Username)

	current, err := service.CurrentUser(ctx, session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", *current.Username)

	_, err = service.UpdateProfile(ctx, session.User.ID, "taken")
	assert.ErrorIs(t, err, core.ErrUsernameTaken)

	_, err = service.UpdateProfile(ctx, session.User.ID, "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = service.UpdateProfile(ctx, uuid.New(), "ghost")
	assert.ErrorIs(t, err, core.ErrAccessDenied)
}

func TestAuthenticateRefreshCookie(t *testing.T) {
	ctx := context.Background()

	t.Run("checks session set", func(t *testing.T) {
		service, _ := setupAuthService(t)
		session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
		require.NoError(t, err)

		userID, err := service.AuthenticateRefreshCookie(ctx, session.Tokens.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, session.User.ID, userID)

		service.Logout(ctx, session.Tokens.RefreshToken)

		_, err = service.AuthenticateRefreshCookie(ctx, session.Tokens.RefreshToken)
		assert.ErrorIs(t, err, core.ErrTokenNotInSet)
	})

	t.Run("stateless", func(t *testing.T) {
		cfg := testConfig()
		cfg.StatelessCookieFallback = true
		service, _ := setupAuthServiceWithConfig(t, cfg)

		session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
		require.NoError(t, err)
		service.Logout(ctx, session.Tokens.RefreshToken)

		userID, err := service.AuthenticateRefreshCookie(ctx, session.Tokens.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, session.User.ID, userID)
	})

	t.Run("does not consume", func(t *testing.T) {
		service, _ := setupAuthService(t)
		session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
		require.NoError(t, err)

		_, err = service.AuthenticateRefreshCookie(ctx, session.Tokens.RefreshToken)
		require.NoError(t, err)

		_, err = service.Refresh(ctx, session.Tokens.RefreshToken)
		assert.NoError(t, err)
	})
}
