package migrations_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/canvas-sync/internal/results/migrations"
	"github.com/koopa0/system-design/canvas-sync/internal/testutils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func tableExists(t *testing.T, env *testutils.PostgresEnv) bool {
	t.Helper()
	var exists bool
	err := env.Pool.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'game_results')`,
	).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestMigrator_UpDown(t *testing.T) {
	if testing.Short() {
		t.Skip("跳過整合測試")
	}

	// SetupPostgres 已經執行過 Up
	env := testutils.SetupPostgres(t)

	m, err := migrations.New(env.DSN, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	assert.True(t, tableExists(t, env))

	// 已是最新版本時 Up 不報錯
	require.NoError(t, m.Up())

	require.NoError(t, m.Down())
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, tableExists(t, env))

	require.NoError(t, m.Up())
	assert.True(t, tableExists(t, env))
}
