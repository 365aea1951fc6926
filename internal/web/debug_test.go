package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/runixer/janiproxy/internal/regex"
	"github.com/runixer/janiproxy/internal/storage"
	tu "github.com/runixer/janiproxy/internal/testutil"
)

func TestPreviewHandler(t *testing.T) {
	store := new(tu.MockStorage)
	store.On("GetRegexScripts").Return([]regex.Script{
		{ScriptName: "broken", Pattern: "/(unclosed/", Enabled: true},
	}, nil)

	client := new(tu.MockUpstreamClient)
	s := newTestServer(t, tu.TestConfig(), store, client)

	rr := postCompletion(s.Handler(), "/debug/preview", tu.TestRequestJSON(true), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Preset string `json:"preset"`
		Blocks []struct {
			Identifier string `json:"identifier"`
			Enabled    bool   `json:"enabled"`
			Position   string `json:"position"`
		} `json:"blocks"`
		Body struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"body"`
		Diagnostics []string       `json:"diagnostics"`
		Parsed      map[string]any `json:"parsed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "Default", resp.Preset)
	assert.Equal(t, tu.TestModel, resp.Body.Model)
	assert.True(t, resp.Body.Stream)
	assert.NotEmpty(t, resp.Body.Messages)
	assert.Equal(t, tu.TestCharName, resp.Parsed["char"])
	assert.Equal(t, tu.TestUserName, resp.Parsed["user"])
	require.Len(t, resp.Diagnostics, 1)
	assert.Contains(t, resp.Diagnostics[0], "broken")

	require.NotEmpty(t, resp.Blocks)
	assert.Equal(t, "main", resp.Blocks[0].Identifier)
	assert.True(t, resp.Blocks[0].Enabled)

	// Preview never reaches upstream and never writes a proxy log.
	client.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "AddProxyLog", mock.Anything)
}

func TestPreviewHandler_Errors(t *testing.T) {
	s := newTestServer(t, tu.TestConfig(), nil, new(tu.MockUpstreamClient))
	handler := s.Handler()

	rr := postCompletion(handler, "/debug/preview", []byte(`{`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/preview", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestLogsHandler(t *testing.T) {
	logs := []storage.ProxyLog{
		{ID: "b", Preset: "Default", Model: tu.TestModel, StatusCode: 200, CreatedAt: time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)},
		{ID: "a", Preset: "Default", Model: tu.TestModel, StatusCode: 429, CreatedAt: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)},
	}

	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantStatus int
	}{
		{name: "default limit", query: "", wantLimit: defaultLogsLimit, wantStatus: http.StatusOK},
		{name: "explicit limit", query: "?limit=5", wantLimit: 5, wantStatus: http.StatusOK},
		{name: "limit capped", query: "?limit=100000", wantLimit: maxLogsLimit, wantStatus: http.StatusOK},
		{name: "bad limit", query: "?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "zero limit", query: "?limit=0", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(tu.MockStorage)
			if tt.wantLimit > 0 {
				store.On("GetProxyLogs", tt.wantLimit).Return(logs, nil)
			}
			s := newTestServer(t, tu.TestConfig(), store, new(tu.MockUpstreamClient))

			req := httptest.NewRequest(http.MethodGet, "/debug/logs"+tt.query, nil)
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			store.AssertExpectations(t)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var got []storage.ProxyLog
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			require.Len(t, got, 2)
			assert.Equal(t, "b", got[0].ID)
			assert.Equal(t, 429, got[1].StatusCode)
		})
	}
}

func TestLogsHandler_EmptyIsArray(t *testing.T) {
	store := new(tu.MockStorage)
	store.On("GetProxyLogs", defaultLogsLimit).Return(nil, nil)
	s := newTestServer(t, tu.TestConfig(), store, new(tu.MockUpstreamClient))

	req := httptest.NewRequest(http.MethodGet, "/debug/logs", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestLogsHandler_StoreErrors(t *testing.T) {
	store := new(tu.MockStorage)
	store.On("GetProxyLogs", defaultLogsLimit).Return(nil, errors.New("database is locked"))
	s := newTestServer(t, tu.TestConfig(), store, new(tu.MockUpstreamClient))

	req := httptest.NewRequest(http.MethodGet, "/debug/logs", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	noStore := newTestServer(t, tu.TestConfig(), nil, new(tu.MockUpstreamClient))
	rr = httptest.NewRecorder()
	noStore.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/logs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestDebugRoutesDisabled(t *testing.T) {
	cfg := tu.TestConfig()
	cfg.Server.DebugMode = false
	s := newTestServer(t, cfg, nil, new(tu.MockUpstreamClient))
	handler := s.Handler()

	for _, path := range []string{"/debug/preview", "/debug/logs"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestDiagnosticsJSON(t *testing.T) {
	assert.Empty(t, diagnosticsJSON(nil))

	got := diagnosticsJSON([]regex.Diagnostic{
		{Script: "a", MessageIndex: -1, Err: errors.New("bad pattern")},
		{Script: "b", MessageIndex: 2, Err: errors.New("match timeout")},
	})
	var lines []string
	require.NoError(t, json.Unmarshal([]byte(got), &lines))
	assert.Equal(t, []string{
		`script "a": bad pattern`,
		`script "b" on message 2: match timeout`,
	}, lines)
}
