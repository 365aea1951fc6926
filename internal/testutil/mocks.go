// Package testutil provides centralized test mocks, fixtures, and helpers.
// All test files should import mocks from here instead of defining their own.
package testutil

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/runixer/janiproxy/internal/outbound"
	"github.com/runixer/janiproxy/internal/preset"
	"github.com/runixer/janiproxy/internal/regex"
	"github.com/runixer/janiproxy/internal/storage"
)

// MockStorage implements storage.Storage for tests.
type MockStorage struct {
	mock.Mock
}

// Preset methods

func (m *MockStorage) SavePreset(p *preset.Preset) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockStorage) GetPreset(name string) (*preset.Preset, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*preset.Preset), args.Error(1)
}

func (m *MockStorage) ListPresets() ([]storage.PresetSummary, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.PresetSummary), args.Error(1)
}

func (m *MockStorage) DeletePreset(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

// Regex methods

func (m *MockStorage) ReplaceRegexScripts(scripts []regex.Script) error {
	args := m.Called(scripts)
	return args.Error(0)
}

func (m *MockStorage) GetRegexScripts() ([]regex.Script, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]regex.Script), args.Error(1)
}

// Proxy log methods

func (m *MockStorage) AddProxyLog(log storage.ProxyLog) error {
	args := m.Called(log)
	return args.Error(0)
}

func (m *MockStorage) GetProxyLogs(limit int) ([]storage.ProxyLog, error) {
	args := m.Called(limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.ProxyLog), args.Error(1)
}

func (m *MockStorage) CleanupProxyLogs(keep int) (int64, error) {
	args := m.Called(keep)
	return args.Get(0).(int64), args.Error(1)
}

// Maintenance methods

func (m *MockStorage) GetDBSize() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) GetTableSizes() ([]storage.TableSize, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.TableSize), args.Error(1)
}

// MockUpstreamClient implements upstream.Client for tests.
type MockUpstreamClient struct {
	mock.Mock
}

func (m *MockUpstreamClient) Send(ctx context.Context, body outbound.RequestBody, authHeader string) (*http.Response, error) {
	args := m.Called(ctx, body, authHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// JSONResponse builds an upstream response with a JSON body.
func JSONResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// SSEResponse builds a streaming upstream response from data payloads,
// terminated by [DONE].
func SSEResponse(chunks ...string) *http.Response {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString("data: ")
		sb.WriteString(c)
		sb.WriteString("\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(sb.String())),
	}
}
