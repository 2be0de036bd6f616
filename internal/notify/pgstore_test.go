package notify

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLNotificationStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	return db, mock, NewSQLNotificationStore(db, nil)
}

func TestSQLNotificationStore_Insert(t *testing.T) {
	jobID := "job-1"
	n := &voxmodels.Notification{
		ID:          "n-1",
		SenderID:    "agent",
		RecipientID: "u1",
		JobID:       &jobID,
		Type:        voxmodels.NotifyProgress,
		Priority:    voxmodels.PriorityHigh,
		Message:     "stage A complete",
		CreatedAt:   time.Now(),
	}

	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(
			"n-1",
			"agent",
			"u1",
			"job-1",
			"progress",
			"high",
			"stage A complete",
			"",
			false,
			nil,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Insert(n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLNotificationStore_InsertError(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO notifications").
		WillReturnError(errors.New("disk full"))

	err := store.Insert(&voxmodels.Notification{ID: "n-2", RecipientID: "u1"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSQLNotificationStore_ByJobID(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	cols := []string{"id", "sender_id", "recipient_id", "job_id", "notification_type", "priority", "message", "abstract", "response_requested", "response_value", "created_at"}
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("n-2", "agent", "u1", "job-1", "progress", "low", "later", "", false, nil, now).
			AddRow("n-1", "agent", "u1", "job-1", "task", "urgent", "earlier", "", true, "yes", now.Add(-time.Minute)))

	rows := store.ByJobID("job-1")
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ID != "n-2" || rows[1].ID != "n-1" {
		t.Errorf("rows out of order: %s, %s", rows[0].ID, rows[1].ID)
	}
	if rows[1].ResponseValue == nil || *rows[1].ResponseValue != "yes" {
		t.Errorf("response_value not decoded: %v", rows[1].ResponseValue)
	}
	if rows[0].JobID == nil || *rows[0].JobID != "job-1" {
		t.Errorf("job_id not decoded: %v", rows[0].JobID)
	}
}

func TestSQLNotificationStore_ByJobIDQueryError(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WillReturnError(errors.New("timeout"))

	if rows := store.ByJobID("job-1"); rows != nil {
		t.Errorf("expected nil rows on query error, got %v", rows)
	}
}
