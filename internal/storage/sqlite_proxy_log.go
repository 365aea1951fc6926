package storage

import (
	"time"

	"github.com/google/uuid"
)

// AddProxyLog saves a proxied request trace. ID and CreatedAt are filled
// in when empty.
func (s *SQLiteStore) AddProxyLog(log ProxyLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO proxy_logs (
		id, preset, model, character, stream, status_code, duration_ms,
		inbound_body, outbound_body, diagnostics, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		log.ID, log.Preset, log.Model, log.Character, log.Stream, log.StatusCode, log.DurationMs,
		log.InboundBody, log.OutboundBody, log.Diagnostics, log.ErrorMessage, formatTime(log.CreatedAt),
	)
	if err != nil {
		return err
	}
	recordOperation("proxy_logs", "add")
	return nil
}

// GetProxyLogs returns the most recent traces, newest first.
func (s *SQLiteStore) GetProxyLogs(limit int) ([]ProxyLog, error) {
	query := `
	SELECT
		id, COALESCE(preset, ''), COALESCE(model, ''), COALESCE(character, ''), stream,
		COALESCE(status_code, 0), COALESCE(duration_ms, 0),
		COALESCE(inbound_body, ''), COALESCE(outbound_body, ''), COALESCE(diagnostics, ''),
		COALESCE(error_message, ''), created_at
	FROM proxy_logs
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ProxyLog
	for rows.Next() {
		var l ProxyLog
		err := rows.Scan(
			&l.ID, &l.Preset, &l.Model, &l.Character, &l.Stream,
			&l.StatusCode, &l.DurationMs,
			&l.InboundBody, &l.OutboundBody, &l.Diagnostics,
			&l.ErrorMessage, &l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CleanupProxyLogs removes all but the keep most recent traces. Returns the
// number of deleted rows.
func (s *SQLiteStore) CleanupProxyLogs(keep int) (int64, error) {
	start := time.Now()
	query := `
		DELETE FROM proxy_logs
		WHERE rowid NOT IN (
			SELECT rowid FROM proxy_logs
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
	`
	result, err := s.db.Exec(query, keep)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	RecordCleanupDuration("proxy_logs", time.Since(start).Seconds())
	if deleted > 0 {
		RecordCleanupDeleted("proxy_logs", deleted)
		s.logger.Info("cleaned up proxy logs", "deleted", deleted, "kept", keep)
	}
	return deleted, nil
}
