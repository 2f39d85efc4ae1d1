package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vlem/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Enqueue adds a job to lab_jobs. The unique (lab_id, job_type) index makes
// a second enqueue for a pending job a no-op.
func (s *Store) Enqueue(ctx context.Context, labID string, jobType store.JobType) error {
	query := `
		INSERT INTO lab_jobs (id, lab_id, job_type, visible_after)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (lab_id, job_type) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, uuid.New(), labID, jobType)
	return wrapErr(fmt.Sprintf("enqueue %s for lab %s", jobType, labID), err)
}

// DequeueBatch claims up to 'limit' available jobs atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Returns nil slice if no jobs are available.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("batch dequeue begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, lab_id, job_type, attempt
		FROM lab_jobs
		WHERE visible_after <= NOW()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapErr("batch dequeue query", err)
	}
	defer rows.Close()

	var items []store.QueueItem
	var ids []string

	for rows.Next() {
		var item store.QueueItem
		if err := rows.Scan(&item.ID, &item.LabID, &item.JobType, &item.Attempt); err != nil {
			return nil, wrapErr("batch dequeue scan", err)
		}
		item.Attempt++
		items = append(items, item)
		ids = append(ids, item.ID.String())
	}

	if err := rows.Err(); err != nil {
		return nil, wrapErr("batch dequeue rows", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE lab_jobs
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempt = attempt + 1
		WHERE id = ANY($2)
	`, store.VisibilityTimeout.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, wrapErr("batch visibility update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("batch dequeue commit", err)
	}

	return items, nil
}

// Complete removes a finished job.
func (s *Store) Complete(ctx context.Context, itemID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM lab_jobs WHERE id = $1", itemID)
	return wrapErr("complete job", err)
}

// Fail handles a failed delivery with retries.
func (s *Store) Fail(ctx context.Context, itemID uuid.UUID, errMsg string) error {
	var attempt int
	err := s.db.QueryRowContext(ctx, "SELECT attempt FROM lab_jobs WHERE id = $1", itemID).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		// already gone
		return nil
	}
	if err != nil {
		return wrapErr("fail job", err)
	}

	if attempt >= store.MaxRetries {
		_, err = s.db.ExecContext(ctx, "DELETE FROM lab_jobs WHERE id = $1", itemID)
		return wrapErr("drop exhausted job", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE lab_jobs
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), last_error = $2
		WHERE id = $3
	`, store.RetryBackoff(attempt).Seconds(), errMsg, itemID)
	return wrapErr("retry job", err)
}

// Heartbeat extends the visibility timeout.
func (s *Store) Heartbeat(ctx context.Context, itemID uuid.UUID, visibleAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE lab_jobs
		SET visible_after = $1
		WHERE id = $2
	`, visibleAfter, itemID)
	return wrapErr("heartbeat", err)
}

// Count tracks count of items in queue
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lab_jobs").Scan(&count)
	if err != nil {
		return 0, wrapErr("count jobs", err)
	}
	return count, nil
}
