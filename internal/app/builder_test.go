package app

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runixer/janiproxy/internal/janitor"
	"github.com/runixer/janiproxy/internal/macro"
	"github.com/runixer/janiproxy/internal/storage"
	tu "github.com/runixer/janiproxy/internal/testutil"
)

func TestSetupServices(t *testing.T) {
	_, err := SetupServices(nil, tu.TestConfig())
	assert.Error(t, err)

	_, err = SetupServices(tu.TestLogger(), nil)
	assert.Error(t, err)

	fixed := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	services, err := SetupServices(tu.TestLogger(), tu.TestConfig(), macro.WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	require.NotNil(t, services.Pipeline)

	req, err := janitor.Decode(tu.TestRequestJSON(false))
	require.NoError(t, err)
	res := services.Pipeline.Run(req, tu.TestPreset("Test"), tu.TestScripts())
	require.NotEmpty(t, res.Body.Messages)
	assert.Equal(t, "You are Aria, talking to Milo.", res.Body.Messages[0].Content)
	assert.Empty(t, res.Diagnostics)

	// History rewrite reaches the outbound body.
	last := res.Body.Messages[len(res.Body.Messages)-1]
	assert.Contains(t, last.Content, "paladin")
}

func TestOpenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "janiproxy.db")
	store, err := OpenStore(tu.TestLogger(), path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SavePreset(tu.TestPreset("Test")))
	_, err = store.GetPreset("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := tu.TestConfig()
	cfg.Log.Level = "warn"
	logger := NewLogger(&buf, cfg)
	logger.Info("hidden")
	assert.Empty(t, buf.String())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	cfg.Log.Level = "loud"
	logger = NewLogger(&buf, cfg)
	assert.Contains(t, buf.String(), "unknown log level")
	logger.Info("visible at info")
	assert.Contains(t, buf.String(), "visible at info")
}
