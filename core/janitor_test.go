package core_test

import (
	"context"
	"testing"
	"time"

	"sessiond/core"
	"sessiond/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPurgeExpiredTokens(t *testing.T) {
	service, repo := setupAuthService(t)
	ctx := context.Background()

	session, err := service.Register(ctx, "u@test.com", "u1", "pw123456")
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.AddRefreshToken(ctx, &core.RefreshToken{
		TokenHash: "stale",
		UserID:    session.User.ID,
		CreatedAt: past,
		ExpiresAt: past.Add(time.Hour),
	}))

	core.PurgeExpiredTokens(ctx, repo, zaptest.NewLogger(t))

	user, err := repo.FindByID(ctx, session.User.ID)
	require.NoError(t, err)
	require.Len(t, user.RefreshTokens, 1)
	assert.Equal(t, core.HashRefreshToken(session.Tokens.RefreshToken), user.RefreshTokens[0].TokenHash)
}

func TestRunTokenJanitor_StopsOnCancel(t *testing.T) {
	repo := storage.NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		core.RunTokenJanitor(ctx, repo, time.Millisecond, zaptest.NewLogger(t))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
