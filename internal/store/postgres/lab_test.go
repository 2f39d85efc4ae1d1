package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"testing"
	"time"

	"vlem/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var labRowColumns = []string{"id", "template_name", "name", "description", "status", "error_kind", "error_message", "created_at", "updated_at"}

func TestCreateLab(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now().Truncate(time.Second)
	lab := &store.Lab{ID: "demo-abc123", TemplateName: "demo", Name: "Demo", Description: "d", Status: store.LabStatusQueued}

	mock.ExpectQuery(`INSERT INTO labs \(id, template_name, name, description, status\)`).
		WithArgs("demo-abc123", "demo", "Demo", "d", "QUEUED").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	if err := s.CreateLab(context.Background(), lab); err != nil {
		t.Fatalf("CreateLab failed: %v", err)
	}
	if !lab.CreatedAt.Equal(now) || !lab.UpdatedAt.Equal(now) {
		t.Errorf("timestamps not filled: %+v", lab)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetLab_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now().Truncate(time.Second)
	mock.ExpectQuery(`SELECT id, template_name, name, description, status, error_kind, error_message, created_at, updated_at FROM labs WHERE id = \$1`).
		WithArgs("demo-abc123").
		WillReturnRows(sqlmock.NewRows(labRowColumns).
			AddRow("demo-abc123", "demo", "Demo", "", "FAILED", "ManifestMissing", "no compose.yml", now, now))

	lab, err := s.GetLab(context.Background(), "demo-abc123")
	if err != nil {
		t.Fatalf("GetLab failed: %v", err)
	}
	if lab.Status != store.LabStatusFailed {
		t.Errorf("got status %s, want FAILED", lab.Status)
	}
	if lab.ErrorKind == nil || *lab.ErrorKind != "ManifestMissing" {
		t.Errorf("got error kind %v", lab.ErrorKind)
	}
}

func TestGetLab_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM labs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetLab(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetLab_Unavailable(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM labs`).
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	_, err := s.GetLab(context.Background(), "demo-abc123")
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestListLabs(t *testing.T) {
	tests := []struct {
		name    string
		filter  store.LabFilter
		pattern string
		args    []driver.Value
	}{
		{
			name:    "Defaults",
			filter:  store.LabFilter{},
			pattern: `SELECT .* FROM labs ORDER BY created_at ASC, id ASC LIMIT \$1 OFFSET \$2`,
			args:    []driver.Value{10, 0},
		},
		{
			name:    "Name and status",
			filter:  store.LabFilter{Name: "De_mo", Status: store.LabStatusCompleted, Limit: 5, Offset: 10},
			pattern: `SELECT .* FROM labs WHERE name ILIKE \$1 AND status = \$2 ORDER BY created_at ASC, id ASC LIMIT \$3 OFFSET \$4`,
			args:    []driver.Value{`%De\_mo%`, "COMPLETED", 5, 10},
		},
		{
			name:    "Sort by updated desc",
			filter:  store.LabFilter{SortBy: store.SortByUpdatedAt, SortDesc: true, Limit: 1000},
			pattern: `SELECT .* FROM labs ORDER BY updated_at DESC, id ASC LIMIT \$1 OFFSET \$2`,
			args:    []driver.Value{100, 0},
		},
		{
			name:    "Unknown sort column falls back",
			filter:  store.LabFilter{SortBy: "id; DROP TABLE labs"},
			pattern: `ORDER BY created_at ASC, id ASC`,
			args:    []driver.Value{10, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			now := time.Now()
			mock.ExpectQuery(tt.pattern).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows(labRowColumns).
					AddRow("demo-1", "demo", "Demo", "", "COMPLETED", nil, nil, now, now))

			labs, err := s.ListLabs(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListLabs failed: %v", err)
			}
			if len(labs) != 1 {
				t.Errorf("expected 1 lab, got %d", len(labs))
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestUpdateLabStatus(t *testing.T) {
	t.Run("Failed records detail", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		mock.ExpectExec(`UPDATE labs SET status = \$1, error_kind = \$2, error_message = \$3, updated_at = NOW\(\) WHERE id = \$4`).
			WithArgs("FAILED", "CommandFailed", "exit 1", "demo-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.UpdateLabStatus(context.Background(), "demo-1", store.LabStatusFailed, &store.Failure{Kind: "CommandFailed", Message: "exit 1"})
		if err != nil {
			t.Fatalf("UpdateLabStatus failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("Other statuses clear detail", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		mock.ExpectExec(`UPDATE labs`).
			WithArgs("BUILDING", nil, nil, "demo-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.UpdateLabStatus(context.Background(), "demo-1", store.LabStatusBuilding, &store.Failure{Kind: "ignored"})
		if err != nil {
			t.Fatalf("UpdateLabStatus failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("Missing lab", func(t *testing.T) {
		s, mock := newMockStore(t)
		defer s.db.Close()

		mock.ExpectExec(`UPDATE labs`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.UpdateLabStatus(context.Background(), "gone", store.LabStatusProcessing, nil)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteLab(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM lab_logs WHERE lab_id = \$1`).
		WithArgs("demo-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM labs WHERE id = \$1`).
		WithArgs("demo-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.DeleteLab(context.Background(), "demo-1"); err != nil {
		t.Fatalf("DeleteLab failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteLab_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM lab_logs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := s.DeleteLab(context.Background(), "demo-1"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestWrapErr(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"Nil", nil, false},
		{"Conn done", sql.ErrConnDone, true},
		{"Network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"Connection exception class", &pq.Error{Code: "08001"}, true},
		{"Admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"Unique violation", &pq.Error{Code: "23505"}, false},
		{"No rows", sql.ErrNoRows, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapErr("op", tt.err)
			if tt.err == nil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if got := errors.Is(err, store.ErrStoreUnavailable); got != tt.unavailable {
				t.Errorf("unavailable = %v, want %v (%v)", got, tt.unavailable, err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("original error lost: %v", err)
			}
		})
	}
}
