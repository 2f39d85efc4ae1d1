package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vlem/internal/store"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
	labColumns       = "id, template_name, name, description, status, error_kind, error_message, created_at, updated_at"
)

func (s *Store) CreateLab(ctx context.Context, lab *store.Lab) error {
	query := `
		INSERT INTO labs (id, template_name, name, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		lab.ID, lab.TemplateName, lab.Name, lab.Description, lab.Status,
	).Scan(&lab.CreatedAt, &lab.UpdatedAt)

	return wrapErr(fmt.Sprintf("create lab %s", lab.ID), err)
}

func (s *Store) GetLab(ctx context.Context, id string) (*store.Lab, error) {
	query := "SELECT " + labColumns + " FROM labs WHERE id = $1"

	lab, err := scanLab(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lab %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get lab %s", id), err)
	}
	return lab, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLab(row rowScanner) (*store.Lab, error) {
	var lab store.Lab
	err := row.Scan(
		&lab.ID, &lab.TemplateName, &lab.Name, &lab.Description, &lab.Status,
		&lab.ErrorKind, &lab.ErrorMessage, &lab.CreatedAt, &lab.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lab, nil
}

func (s *Store) ListLabs(ctx context.Context, filter store.LabFilter) ([]store.Lab, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.Name != "" {
		args = append(args, "%"+escapeLike(filter.Name)+"%")
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	sortBy := store.SortByCreatedAt
	if filter.SortBy == store.SortByUpdatedAt {
		sortBy = store.SortByUpdatedAt
	}
	order := "ASC"
	if filter.SortDesc {
		order = "DESC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM labs
		%s
		ORDER BY %s %s, id ASC
		LIMIT $%d OFFSET $%d
	`, labColumns, where, sortBy, order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list labs", err)
	}
	defer rows.Close()

	labs := []store.Lab{}
	for rows.Next() {
		lab, err := scanLab(rows)
		if err != nil {
			return nil, wrapErr("list labs scan", err)
		}
		labs = append(labs, *lab)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list labs rows", err)
	}

	return labs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) UpdateLabStatus(ctx context.Context, id string, status store.LabStatus, failure *store.Failure) error {
	var kind, message *string
	if status == store.LabStatusFailed && failure != nil {
		kind, message = &failure.Kind, &failure.Message
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE labs
		SET status = $1, error_kind = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`, status, kind, message, id)
	if err != nil {
		return wrapErr(fmt.Sprintf("update lab %s status", id), err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return wrapErr(fmt.Sprintf("update lab %s status", id), err)
	}
	if n == 0 {
		return fmt.Errorf("lab %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteLab(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete lab begin", err)
	}
	defer tx.Rollback()

	executor := s.getExecutor(tx)
	if _, err := executor.ExecContext(ctx, "DELETE FROM lab_logs WHERE lab_id = $1", id); err != nil {
		return wrapErr(fmt.Sprintf("delete lab %s logs", id), err)
	}
	if _, err := executor.ExecContext(ctx, "DELETE FROM labs WHERE id = $1", id); err != nil {
		return wrapErr(fmt.Sprintf("delete lab %s", id), err)
	}

	return wrapErr("delete lab commit", tx.Commit())
}
