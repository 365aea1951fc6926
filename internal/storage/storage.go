package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a named record does not exist.
var ErrNotFound = errors.New("not found")

// PresetSummary is a preset listing entry.
type PresetSummary struct {
	Name      string
	Blocks    int
	Scripts   int
	UpdatedAt time.Time
}

// ProxyLog records one proxied chat completion.
type ProxyLog struct {
	ID           string    `json:"id"`
	Preset       string    `json:"preset"`
	Model        string    `json:"model"`
	Character    string    `json:"character"`
	Stream       bool      `json:"stream"`
	StatusCode   int       `json:"status_code"`
	DurationMs   int       `json:"duration_ms"`
	InboundBody  string    `json:"inbound_body"`  // JSON - request as received from the client
	OutboundBody string    `json:"outbound_body"` // JSON - request sent upstream
	Diagnostics  string    `json:"diagnostics"`   // JSON - regex script failures
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Storage interface {
	PresetRepository
	RegexRepository
	ProxyLogRepository
	MaintenanceRepository
}

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string // Original path without query params, for file size check
}

func NewSQLiteStore(logger *slog.Logger, path string) (*SQLiteStore, error) {
	logger = logger.With("component", "storage")

	originalPath := path
	if idx := strings.Index(path, "?"); idx != -1 {
		originalPath = path[:idx]
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single connection avoids "database is locked" errors on concurrent
	// writes with modernc.org/sqlite.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	// modernc.org/sqlite ignores the _journal_mode query param, so set it here.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		logger.Warn("failed to set WAL journal mode", "error", err)
	} else {
		logger.Info("SQLite journal mode set", "mode", journalMode, "path", originalPath)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		logger.Warn("failed to set busy timeout", "error", err)
	}

	return &SQLiteStore{db: db, logger: logger, dbPath: originalPath}, nil
}

func (s *SQLiteStore) Init() error {
	query := `
	CREATE TABLE IF NOT EXISTS presets (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS regex_scripts (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		script_name TEXT,
		pattern TEXT NOT NULL,
		replacement TEXT,
		flags TEXT,
		enabled BOOLEAN DEFAULT 1,
		sort_order INTEGER DEFAULT 0,
		roles TEXT DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS proxy_logs (
		id TEXT PRIMARY KEY,
		preset TEXT,
		model TEXT,
		character TEXT,
		stream BOOLEAN DEFAULT 0,
		status_code INTEGER,
		duration_ms INTEGER,
		inbound_body TEXT,
		outbound_body TEXT,
		diagnostics TEXT,
		error_message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_proxy_logs_created_at ON proxy_logs(created_at DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return err
	}

	if err := s.migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

func (s *SQLiteStore) migrate() error {
	// Stage column arrived after the first release of regex_scripts.
	var count int
	err := s.db.QueryRow("SELECT count(*) FROM pragma_table_info('regex_scripts') WHERE name='stage'").Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		s.logger.Info("migrating regex_scripts table: adding stage")
		if _, err := s.db.Exec("ALTER TABLE regex_scripts ADD COLUMN stage TEXT DEFAULT 'history'"); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint forces a WAL checkpoint to flush pending writes to the main
// database file.
func (s *SQLiteStore) Checkpoint() error {
	var busy, log, checkpointed int
	err := s.db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &log, &checkpointed)
	if err != nil {
		return fmt.Errorf("checkpoint query failed: %w", err)
	}

	s.logger.Debug("WAL checkpoint result",
		"busy", busy,
		"log_frames", log,
		"checkpointed_frames", checkpointed,
	)

	if busy != 0 {
		return fmt.Errorf("checkpoint blocked by reader (busy=%d)", busy)
	}
	if log > 0 && checkpointed < log {
		return fmt.Errorf("incomplete checkpoint: %d/%d frames", checkpointed, log)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.Checkpoint(); err != nil {
		s.logger.Warn("failed to checkpoint WAL before close", "error", err)
	}
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.999")
}
