package storage

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runixer/janiproxy/internal/regex"
)

func setupFileDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(slog.New(slog.NewJSONHandler(io.Discard, nil)), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init())
	return store
}

func TestGetDBSize(t *testing.T) {
	store := setupFileDB(t)

	before, err := store.GetDBSize()
	require.NoError(t, err)
	assert.Greater(t, before, int64(0), "DB size should be greater than 0")

	// Writes land in the WAL first and still count.
	for i := 0; i < 50; i++ {
		require.NoError(t, store.AddProxyLog(ProxyLog{Model: "m", InboundBody: strings.Repeat("x", 1024)}))
	}
	after, err := store.GetDBSize()
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

func TestGetDBSize_InMemory(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	size, err := store.GetDBSize()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestGetDBSize_WithQueryParams(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "params.db")
	store, err := NewSQLiteStore(slog.New(slog.NewJSONHandler(io.Discard, nil)), dbPath+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Init())

	assert.Equal(t, dbPath, store.dbPath)
	_, err = store.GetDBSize()
	assert.NoError(t, err)
}

func TestGetTableSizes(t *testing.T) {
	store := setupFileDB(t)

	require.NoError(t, store.AddProxyLog(ProxyLog{Model: "m"}))
	require.NoError(t, store.AddProxyLog(ProxyLog{Model: "m"}))
	require.NoError(t, store.ReplaceRegexScripts([]regex.Script{{ScriptName: "a", Pattern: "x", Enabled: true}}))

	sizes, err := store.GetTableSizes()
	require.NoError(t, err)
	require.Len(t, sizes, len(managedTables))

	byName := make(map[string]TableSize)
	for i, ts := range sizes {
		byName[ts.Name] = ts
		if i > 0 {
			assert.GreaterOrEqual(t, sizes[i-1].Bytes, ts.Bytes, "sorted largest first")
		}
	}
	assert.Equal(t, int64(2), byName["proxy_logs"].Rows)
	assert.Equal(t, int64(1), byName["regex_scripts"].Rows)
	assert.Equal(t, int64(0), byName["presets"].Rows)
	assert.Greater(t, byName["proxy_logs"].Bytes, int64(0))
}

func TestIsMemoryPath(t *testing.T) {
	assert.True(t, isMemoryPath(":memory:"))
	assert.True(t, isMemoryPath("file::memory:"))
	assert.False(t, isMemoryPath("data/janiproxy.db"))
}
