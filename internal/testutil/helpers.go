package testutil

import (
	"io"
	"log/slog"

	"github.com/runixer/janiproxy/internal/config"
)

// TestLogger returns a discarding logger for tests.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestConfig returns a config with sensible test defaults: debug routes on,
// auth off, proxy logging on.
func TestConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenPort:     "0",
			DebugMode:      true,
			AllowedOrigins: []string{"*"},
		},
		Upstream: config.UpstreamConfig{
			BaseURL: "http://upstream.invalid/v1",
			Timeout: "5s",
		},
		Regex:    config.RegexConfig{MatchTimeout: "100ms"},
		ProxyLog: config.ProxyLogConfig{Enabled: true, Keep: 100},
	}
	cfg.Log.Level = "debug"
	cfg.Database.Path = ":memory:"
	return cfg
}

// TestConfigWithAuth returns TestConfig with basic auth enabled for the
// debug routes.
func TestConfigWithAuth(username, password string) *config.Config {
	cfg := TestConfig()
	cfg.Server.Auth = config.AuthConfig{Enabled: true, Username: username, Password: password}
	return cfg
}

// Ptr returns a pointer to the given value. Useful for optional fields.
func Ptr[T any](v T) *T {
	return &v
}
