package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runixer/janiproxy/internal/outbound"
	"github.com/runixer/janiproxy/internal/preset"
	tu "github.com/runixer/janiproxy/internal/testutil"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func presetFile(t *testing.T, name string) string {
	t.Helper()
	data, err := json.Marshal(tu.TestPreset(name))
	require.NoError(t, err)
	return writeFile(t, "preset.json", data)
}

func decodeBody(t *testing.T, stdout string) outbound.RequestBody {
	t.Helper()
	var body outbound.RequestBody
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	return body
}

func TestPresetLifecycle(t *testing.T) {
	db := tempDB(t)
	file := presetFile(t, "From File")

	stdout, _, err := execute(t, db, "preset", "import", file, "--name", "Story Mode")
	require.NoError(t, err)
	assert.Contains(t, stdout, `Imported preset "Story Mode" (3 blocks, 0 regex scripts)`)

	stdout, _, err = execute(t, db, "preset", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "NAME")
	assert.Contains(t, stdout, "Story Mode")
	assert.NotContains(t, stdout, "From File")

	stdout, _, err = execute(t, db, "preset", "show", "Story Mode")
	require.NoError(t, err)
	var shown preset.Preset
	require.NoError(t, json.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, "Story Mode", shown.Name)
	assert.Len(t, shown.PromptBlocks, 3)

	stdout, _, err = execute(t, db, "preset", "delete", "Story Mode")
	require.NoError(t, err)
	assert.Contains(t, stdout, `Deleted preset "Story Mode"`)

	_, _, err = execute(t, db, "preset", "show", "Story Mode")
	assert.Error(t, err)
}

func TestPresetImport_Invalid(t *testing.T) {
	db := tempDB(t)

	bad := writeFile(t, "bad.json", []byte(`{"name":"x","promptBlocks":[{"identifier":"a"},{"identifier":"a"}]}`))
	_, _, err := execute(t, db, "preset", "import", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate identifier")

	unnamed := writeFile(t, "unnamed.json", []byte(`{"promptBlocks":[]}`))
	_, _, err = execute(t, db, "preset", "import", unnamed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--name")
}

func TestRender_PresetFile(t *testing.T) {
	db := tempDB(t)
	req := writeFile(t, "request.json", tu.TestRequestJSON(true))

	stdout, _, err := execute(t, db, "render", req, "--preset-file", presetFile(t, "Test"))
	require.NoError(t, err)

	body := decodeBody(t, stdout)
	assert.Equal(t, tu.TestModel, body.Model)
	assert.True(t, body.Stream)
	require.NotEmpty(t, body.Messages)
	assert.Equal(t, "You are Aria, talking to Milo.", body.Messages[0].Content)
	assert.Equal(t, 512, body.MaxTokens)
}

func TestRender_StoredPresetAndScripts(t *testing.T) {
	db := tempDB(t)

	_, _, err := execute(t, db, "preset", "import", presetFile(t, "Stored"))
	require.NoError(t, err)

	scripts := writeFile(t, "scripts.yaml", []byte(`
- script_name: knight to paladin
  pattern: /knight/gi
  replacement: paladin
  enabled: true
- script_name: broken
  pattern: "("
  enabled: true
  order: 1
- script_name: parked
  pattern: x
  enabled: false
  order: 2
`))
	stdout, stderr, err := execute(t, db, "regex", "import", scripts)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Imported 3 scripts (2 enabled)")
	assert.Contains(t, stderr, `script "broken"`)

	stdout, _, err = execute(t, db, "regex", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "knight to paladin")
	assert.Contains(t, stdout, "history")
	assert.Contains(t, stdout, "parked")

	req := writeFile(t, "request.json", tu.TestRequestJSON(false))
	stdout, stderr, err = execute(t, db, "render", req, "--preset", "Stored", "--model", "override-model")
	require.NoError(t, err)
	assert.Contains(t, stderr, "broken")

	body := decodeBody(t, stdout)
	assert.Equal(t, "override-model", body.Model)
	last := body.Messages[len(body.Messages)-1]
	assert.Equal(t, "Hello, brave paladin.", last.Content)
}

func TestRender_Explain(t *testing.T) {
	db := tempDB(t)
	req := writeFile(t, "request.json", tu.TestRequestJSON(false))

	stdout, _, err := execute(t, db, "render", req, "--explain")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Preset: Default")
	assert.Contains(t, stdout, "IDENTIFIER")
	assert.Contains(t, stdout, preset.MarkerChatHistory)
}

func TestRender_Errors(t *testing.T) {
	db := tempDB(t)

	_, _, err := execute(t, db, "render", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.json", []byte(`{"messages": "nope"}`))
	_, _, err = execute(t, db, "render", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")

	req := writeFile(t, "request.json", tu.TestRequestJSON(false))
	_, _, err = execute(t, db, "render", req, "--preset", "Unknown")
	assert.Error(t, err)
}

func TestDecodeScripts(t *testing.T) {
	scripts, err := decodeScripts("rules.json", []byte(`[{"scriptName":"a","pattern":"x","enabled":true}]`))
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "a", scripts[0].ScriptName)

	scripts, err = decodeScripts("rules.YML", []byte("- script_name: b\n  pattern: y\n"))
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "b", scripts[0].ScriptName)

	_, err = decodeScripts("rules.json", []byte(`{`))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
