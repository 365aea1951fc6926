package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/runixer/janiproxy/internal/regex"
)

// ReplaceRegexScripts swaps the stored script list for scripts in one
// transaction. List position is kept so equal Order values stay stable.
// Scripts without an ID get a fresh one.
func (s *SQLiteStore) ReplaceRegexScripts(scripts []regex.Script) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM regex_scripts"); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
	INSERT INTO regex_scripts (
		id, position, script_name, pattern, replacement, flags,
		enabled, sort_order, roles, stage
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sc := range scripts {
		id := sc.ID
		if id == "" {
			id = uuid.NewString()
		}
		roles, err := json.Marshal(sc.Roles)
		if err != nil {
			return fmt.Errorf("failed to encode roles for %s: %w", sc.Name(), err)
		}
		if _, err := stmt.Exec(
			id, i, sc.ScriptName, sc.Pattern, sc.Replacement, sc.Flags,
			sc.Enabled, sc.Order, string(roles), string(sc.EffectiveStage()),
		); err != nil {
			return fmt.Errorf("failed to store regex script %s: %w", sc.Name(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	recordOperation("regex_scripts", "replace")
	return nil
}

// GetRegexScripts returns the stored scripts in list order.
func (s *SQLiteStore) GetRegexScripts() ([]regex.Script, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(script_name, ''), pattern, COALESCE(replacement, ''), COALESCE(flags, ''),
			enabled, sort_order, COALESCE(roles, '[]'), COALESCE(stage, 'history')
		FROM regex_scripts
		ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []regex.Script
	for rows.Next() {
		var (
			sc    regex.Script
			roles string
			stage string
		)
		if err := rows.Scan(&sc.ID, &sc.ScriptName, &sc.Pattern, &sc.Replacement, &sc.Flags,
			&sc.Enabled, &sc.Order, &roles, &stage); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(roles), &sc.Roles); err != nil {
			s.logger.Warn("invalid roles on stored regex script", "id", sc.ID, "error", err)
		}
		sc.Stage = regex.Stage(stage)
		scripts = append(scripts, sc)
	}
	return scripts, rows.Err()
}
