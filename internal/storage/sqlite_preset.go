package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/runixer/janiproxy/internal/preset"
)

// SavePreset inserts or replaces the preset stored under p.Name.
func (s *SQLiteStore) SavePreset(p *preset.Preset) error {
	if p == nil || p.Name == "" {
		return errors.New("preset name is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preset: %w", err)
	}

	now := formatTime(time.Now())
	query := `
	INSERT INTO presets (name, data, created_at, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	if _, err := s.db.Exec(query, p.Name, string(data), now, now); err != nil {
		return err
	}
	recordOperation("presets", "save")
	return nil
}

// GetPreset loads and validates the named preset.
func (s *SQLiteStore) GetPreset(name string) (*preset.Preset, error) {
	var data string
	err := s.db.QueryRow("SELECT data FROM presets WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return preset.Load(strings.NewReader(data))
}

// ListPresets returns every stored preset ordered by name. Rows that no
// longer decode are listed with zero counts.
func (s *SQLiteStore) ListPresets() ([]PresetSummary, error) {
	rows, err := s.db.Query("SELECT name, data, updated_at FROM presets ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PresetSummary
	for rows.Next() {
		var (
			summary PresetSummary
			data    string
		)
		if err := rows.Scan(&summary.Name, &data, &summary.UpdatedAt); err != nil {
			return nil, err
		}
		var p preset.Preset
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			s.logger.Warn("stored preset does not decode", "name", summary.Name, "error", err)
		} else {
			summary.Blocks = len(p.PromptBlocks)
			summary.Scripts = len(p.RegexScripts)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePreset(name string) error {
	result, err := s.db.Exec("DELETE FROM presets WHERE name = ?", name)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("preset %q: %w", name, ErrNotFound)
	}
	recordOperation("presets", "delete")
	return nil
}
