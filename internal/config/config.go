package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultConfig []byte

// Fallbacks used when a duration is empty or does not parse.
const (
	DefaultUpstreamTimeout   = 120 * time.Second
	DefaultRegexMatchTimeout = 250 * time.Millisecond
)

type AuthConfig struct {
	Enabled  bool   `yaml:"enabled" env:"JANIPROXY_AUTH_ENABLED"`
	Username string `yaml:"username" env:"JANIPROXY_AUTH_USERNAME"`
	Password string `yaml:"password" env:"JANIPROXY_AUTH_PASSWORD"`
}

type ServerConfig struct {
	ListenPort     string     `yaml:"listen_port" env:"JANIPROXY_SERVER_PORT"`
	DebugMode      bool       `yaml:"debug_mode" env:"JANIPROXY_SERVER_DEBUG"`
	AllowedOrigins []string   `yaml:"allowed_origins" env:"JANIPROXY_ALLOWED_ORIGINS"`
	Auth           AuthConfig `yaml:"auth"`
}

// UpstreamConfig describes the OpenAI-compatible API requests are forwarded to.
type UpstreamConfig struct {
	BaseURL  string `yaml:"base_url" env:"JANIPROXY_UPSTREAM_BASE_URL"`
	APIKey   string `yaml:"api_key" env:"JANIPROXY_UPSTREAM_API_KEY"`
	ProxyURL string `yaml:"proxy_url" env:"JANIPROXY_UPSTREAM_PROXY_URL"`
	Model    string `yaml:"model" env:"JANIPROXY_UPSTREAM_MODEL"` // Overrides the caller's model when set
	Timeout  string `yaml:"timeout" env:"JANIPROXY_UPSTREAM_TIMEOUT"`
}

// GetTimeout returns the parsed timeout, falling back to DefaultUpstreamTimeout.
func (u *UpstreamConfig) GetTimeout() time.Duration {
	return parseDurationOr(u.Timeout, DefaultUpstreamTimeout)
}

type PresetConfig struct {
	Active string `yaml:"active" env:"JANIPROXY_PRESET"`
	File   string `yaml:"file" env:"JANIPROXY_PRESET_FILE"`
}

type RegexConfig struct {
	MatchTimeout string `yaml:"match_timeout" env:"JANIPROXY_REGEX_MATCH_TIMEOUT"`
}

// GetMatchTimeout returns the per-match regex budget.
func (r *RegexConfig) GetMatchTimeout() time.Duration {
	return parseDurationOr(r.MatchTimeout, DefaultRegexMatchTimeout)
}

type ProxyLogConfig struct {
	Enabled bool `yaml:"enabled" env:"JANIPROXY_PROXY_LOG_ENABLED"`
	Keep    int  `yaml:"keep" env:"JANIPROXY_PROXY_LOG_KEEP"`
}

type Config struct {
	Log struct {
		Level string `yaml:"level" env:"JANIPROXY_LOG_LEVEL"`
	} `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Database struct {
		Path string `yaml:"path" env:"JANIPROXY_DATABASE_PATH"`
	} `yaml:"database"`
	Preset   PresetConfig   `yaml:"preset"`
	Regex    RegexConfig    `yaml:"regex"`
	ProxyLog ProxyLogConfig `yaml:"proxy_log"`
}

// Load loads configuration from the specified file path.
// It first loads the embedded default configuration, then merges the user config on top.
// Finally, it overrides values with environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfig, &cfg); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			// Log this so users know their config wasn't loaded
			slog.Warn("config file not found, using defaults", "path", path)
		} else {
			expandedData := []byte(os.ExpandEnv(string(data)))

			// Unmarshal user config on top of defaults (merges non-zero values)
			if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
				return nil, err
			}
			slog.Info("loaded user config", "path", path)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDefault loads the embedded default configuration.
func LoadDefault() (*Config, error) {
	return Load("")
}

// DefaultConfigBytes returns the raw embedded default configuration.
// Useful for generating example config files.
func DefaultConfigBytes() []byte {
	return defaultConfig
}

// ListenAddr returns the server address in host:port form.
func (c *Config) ListenAddr() string {
	return ":" + c.Server.ListenPort
}

// SlogLevel maps log.level to a slog level. ok is false for unknown values,
// which map to info.
func (c *Config) SlogLevel() (level slog.Level, ok bool) {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Validate checks configuration for required fields and valid ranges.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenPort == "" {
		errs = append(errs, errors.New("server.listen_port is required"))
	} else if port, err := strconv.Atoi(c.Server.ListenPort); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.listen_port must be a port number, got %q", c.Server.ListenPort))
	}

	// Password is auto-generated if not set
	if c.Server.Auth.Enabled && c.Server.Auth.Username == "" {
		errs = append(errs, errors.New("server.auth.username is required when server.auth.enabled is true"))
	}

	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url must be an absolute URL, got %q", c.Upstream.BaseURL))
	}
	if c.Upstream.ProxyURL != "" {
		if _, err := url.Parse(c.Upstream.ProxyURL); err != nil {
			errs = append(errs, fmt.Errorf("upstream.proxy_url: %w", err))
		}
	}
	if c.Upstream.Timeout != "" {
		if d, err := time.ParseDuration(c.Upstream.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("upstream.timeout: invalid duration format %q: %w", c.Upstream.Timeout, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("upstream.timeout must be positive, got %s", d))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.Regex.MatchTimeout != "" {
		if d, err := time.ParseDuration(c.Regex.MatchTimeout); err != nil {
			errs = append(errs, fmt.Errorf("regex.match_timeout: invalid duration format %q: %w", c.Regex.MatchTimeout, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("regex.match_timeout must be positive, got %s", d))
		}
	}

	if c.ProxyLog.Enabled && c.ProxyLog.Keep <= 0 {
		errs = append(errs, fmt.Errorf("proxy_log.keep must be positive, got %d", c.ProxyLog.Keep))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
