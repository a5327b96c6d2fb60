package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/canvas-sync/internal/auth"
	"github.com/koopa0/system-design/canvas-sync/internal/testutils"
	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticValidator(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		token   string
		wantErr bool
	}{
		{"valid", "alice", "t-1", false},
		{"missing token", "alice", "", true},
		{"missing user", "", "t-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.StaticValidator{}.Validate(context.Background(), tt.userID, tt.token)
			if tt.wantErr {
				assert.True(t, apperrors.IsUnauthenticated(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestRedisValidator 使用真實 Redis 驗證 session 查詢
func TestRedisValidator(t *testing.T) {
	if testing.Short() {
		t.Skip("跳過整合測試")
	}

	env := testutils.SetupRedis(t)
	ctx := context.Background()

	v := auth.NewRedisValidator(env.Client, "session:")
	require.NoError(t, v.Issue(ctx, "alice", "tok-a", time.Minute))

	t.Run("matching user", func(t *testing.T) {
		assert.NoError(t, v.Validate(ctx, "alice", "tok-a"))
	})

	t.Run("unknown token", func(t *testing.T) {
		err := v.Validate(ctx, "alice", "nope")
		assert.True(t, apperrors.IsUnauthenticated(err))
	})

	t.Run("token of another user", func(t *testing.T) {
		err := v.Validate(ctx, "bob", "tok-a")
		assert.True(t, apperrors.IsUnauthenticated(err))
	})

	t.Run("expired session", func(t *testing.T) {
		require.NoError(t, v.Issue(ctx, "carol", "tok-c", 100*time.Millisecond))
		require.Eventually(t, func() bool {
			return v.Validate(ctx, "carol", "tok-c") != nil
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("redis unavailable", func(t *testing.T) {
		closed := redis.NewClient(&redis.Options{Addr: env.Addr})
		require.NoError(t, closed.Close())

		err := auth.NewRedisValidator(closed, "session:").Validate(ctx, "alice", "tok-a")
		require.Error(t, err)
		assert.False(t, apperrors.IsUnauthenticated(err), "連線錯誤不是驗證失敗")
		assert.Equal(t, "Internal server error", apperrors.Message(err))
	})
}
