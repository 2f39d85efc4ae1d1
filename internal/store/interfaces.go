package store

import (
	"context"
	"database/sql"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// LabStore handles the persistence of lab records.
type LabStore interface {
	// CreateLab inserts a new lab. CreatedAt and UpdatedAt are filled in.
	CreateLab(ctx context.Context, lab *Lab) error

	// GetLab returns a lab by its ID, or ErrNotFound.
	GetLab(ctx context.Context, id string) (*Lab, error)

	// ListLabs returns labs matching the filter.
	ListLabs(ctx context.Context, filter LabFilter) ([]Lab, error)

	// UpdateLabStatus sets the status. failure is recorded only with
	// LabStatusFailed; every other status clears the error fields.
	UpdateLabStatus(ctx context.Context, id string, status LabStatus, failure *Failure) error

	// DeleteLab removes a lab and its logs. Deleting a missing lab is not an error.
	DeleteLab(ctx context.Context, id string) error
}

// LogStore handles captured compose output.
type LogStore interface {
	AddLabLog(ctx context.Context, labID, stage, content string) error

	// GetLabLogs returns entries with ID greater than afterID, oldest first.
	GetLabLogs(ctx context.Context, labID string, afterID int64, limit int) ([]LogEntry, error)
}

// Pinger reports whether the backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}
