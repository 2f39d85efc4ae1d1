package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"vlem/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func TestEnqueue_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO lab_jobs .* ON CONFLICT \(lab_id, job_type\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), "demo-abc123", "PROVISION").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Enqueue(context.Background(), "demo-abc123", store.JobTypeProvision); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnqueue_DuplicateIsNoop(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO lab_jobs`).
		WithArgs(sqlmock.AnyArg(), "demo-abc123", "PROVISION").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Enqueue(context.Background(), "demo-abc123", store.JobTypeProvision); err != nil {
		t.Fatalf("expected duplicate enqueue to succeed, got %v", err)
	}
}

func TestEnqueue_ConnectionLost(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO lab_jobs`).WillReturnError(sql.ErrConnDone)

	err := s.Enqueue(context.Background(), "demo-abc123", store.JobTypeProvision)
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestDequeueBatch_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, lab_id, job_type, attempt FROM lab_jobs WHERE visible_after <= NOW\(\) ORDER BY created_at ASC FOR UPDATE SKIP LOCKED LIMIT \$1`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lab_id", "job_type", "attempt"}).
			AddRow(id1.String(), "demo-1", "PROVISION", 0).
			AddRow(id2.String(), "demo-2", "TEARDOWN", 2))
	mock.ExpectExec(`UPDATE lab_jobs SET visible_after = NOW\(\) \+ \(\$1 \* INTERVAL '1 second'\), attempt = attempt \+ 1`).
		WithArgs(store.VisibilityTimeout.Seconds(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	items, err := s.DequeueBatch(context.Background(), 3)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != id1 || items[0].LabID != "demo-1" || items[0].JobType != store.JobTypeProvision {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[0].Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", items[0].Attempt)
	}
	if items[1].JobType != store.JobTypeTeardown || items[1].Attempt != 3 {
		t.Errorf("unexpected second item: %+v", items[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDequeueBatch_EmptyQueue(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, lab_id, job_type, attempt FROM lab_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lab_id", "job_type", "attempt"}))
	mock.ExpectRollback()

	items, err := s.DequeueBatch(context.Background(), 5)
	if err != nil {
		t.Errorf("expected no error for empty queue, got %v", err)
	}
	if items != nil {
		t.Errorf("expected nil items, got %v", items)
	}
}

func TestDequeueBatch_LimitDefaultsToOne(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, lab_id, job_type, attempt FROM lab_jobs`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lab_id", "job_type", "attempt"}))
	mock.ExpectRollback()

	if _, err := s.DequeueBatch(context.Background(), 0); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDequeueBatch_BeginFails(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := s.DequeueBatch(context.Background(), 1)
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestComplete_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM lab_jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Complete(context.Background(), id); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFail_Retry(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT attempt FROM lab_jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}).AddRow(2))
	mock.ExpectExec(`UPDATE lab_jobs SET visible_after`).
		WithArgs(store.RetryBackoff(2).Seconds(), "store unavailable", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Fail(context.Background(), id, "store unavailable"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFail_ExhaustedIsDropped(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT attempt FROM lab_jobs`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}).AddRow(store.MaxRetries))
	mock.ExpectExec(`DELETE FROM lab_jobs WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Fail(context.Background(), id, "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFail_AlreadyGone(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT attempt FROM lab_jobs`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	if err := s.Fail(context.Background(), id, "boom"); err != nil {
		t.Errorf("expected nil for missing job, got %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	visibleAfter := time.Now().Add(5 * time.Minute)
	mock.ExpectExec(`UPDATE lab_jobs SET visible_after = \$1 WHERE id = \$2`).
		WithArgs(visibleAfter, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Heartbeat(context.Background(), id, visibleAfter); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCount(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM lab_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{3, 80 * time.Second},
		{-1, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := store.RetryBackoff(tt.attempt); got != tt.want {
			t.Errorf("RetryBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
