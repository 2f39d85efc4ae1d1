package postgres

import (
	"context"

	"vlem/internal/store"
)

func (s *Store) AddLabLog(ctx context.Context, labID, stage, content string) error {
	query := `INSERT INTO lab_logs (lab_id, stage, content) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, labID, stage, content)
	return wrapErr("add lab log", err)
}

func (s *Store) GetLabLogs(ctx context.Context, labID string, afterID int64, limit int) ([]store.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, lab_id, stage, content, created_at
		FROM lab_logs
		WHERE lab_id = $1 and id > $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, labID, afterID, limit)
	if err != nil {
		return nil, wrapErr("get lab logs", err)
	}
	defer rows.Close()

	logs := []store.LogEntry{}
	for rows.Next() {
		var entry store.LogEntry
		if err := rows.Scan(&entry.ID, &entry.LabID, &entry.Stage, &entry.Content, &entry.CreatedAt); err != nil {
			return nil, wrapErr("get lab logs scan", err)
		}
		logs = append(logs, entry)
	}

	return logs, wrapErr("get lab logs rows", rows.Err())
}
