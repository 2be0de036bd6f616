package notify

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// SQLNotificationStore is the durable NotificationStore over
// Postgres/CockroachDB. The schema lives in the database package's
// embedded migrations.
type SQLNotificationStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLNotificationStore wraps an open *sql.DB. logger defaults to
// slog.Default() when nil.
func NewSQLNotificationStore(db *sql.DB, logger *slog.Logger) *SQLNotificationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLNotificationStore{db: db, logger: logger}
}

func (s *SQLNotificationStore) Insert(n *voxmodels.Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, sender_id, recipient_id, job_id, notification_type, priority, message, abstract, response_requested, response_value, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		n.ID,
		n.SenderID,
		n.RecipientID,
		nullableString(n.JobID),
		string(n.Type),
		string(n.Priority),
		n.Message,
		n.Abstract,
		n.ResponseRequest,
		nullableString(n.ResponseValue),
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// Clear truncates the notifications table. Failures are logged and report
// zero cleared.
func (s *SQLNotificationStore) Clear() int {
	res, err := s.db.Exec(`DELETE FROM notifications`)
	if err != nil {
		s.logger.Warn("notify: clear notifications", "error", err)
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// ByJobID returns every notification correlated with jobID. Query failures
// are logged and yield an empty slice: interaction history is a read-side
// convenience and must not fail the caller.
func (s *SQLNotificationStore) ByJobID(jobID string) []voxmodels.Notification {
	rows, err := s.db.Query(`
		SELECT id, sender_id, recipient_id, job_id, notification_type, priority, message, abstract, response_requested, response_value, created_at
		FROM notifications
		WHERE job_id = $1
		ORDER BY created_at DESC
	`, jobID)
	if err != nil {
		s.logger.Warn("notify: query notifications by job", "job_id", jobID, "error", err)
		return nil
	}
	defer rows.Close()

	var out []voxmodels.Notification
	for rows.Next() {
		var n voxmodels.Notification
		var typ, priority string
		var jobRef, responseValue sql.NullString
		if err := rows.Scan(&n.ID, &n.SenderID, &n.RecipientID, &jobRef, &typ, &priority, &n.Message, &n.Abstract, &n.ResponseRequest, &responseValue, &n.CreatedAt); err != nil {
			s.logger.Warn("notify: scan notification row", "error", err)
			return out
		}
		n.Type = voxmodels.NotificationType(typ)
		n.Priority = voxmodels.Priority(priority)
		if jobRef.Valid {
			n.JobID = &jobRef.String
		}
		if responseValue.Valid {
			n.ResponseValue = &responseValue.String
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("notify: iterate notification rows", "error", err)
	}
	return out
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
