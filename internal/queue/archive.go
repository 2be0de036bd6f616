package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// Archive records a job once it reaches a terminal queue, giving the
// in-memory queues a durable trail that survives restarts and resets.
type Archive interface {
	Record(ctx context.Context, job *voxmodels.Job) error
}

// SQLArchive is the Postgres/CockroachDB-backed Archive. The schema lives
// in the database package's embedded migrations.
type SQLArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLArchive wraps an open *sql.DB. logger defaults to slog.Default()
// when nil.
func NewSQLArchive(db *sql.DB, logger *slog.Logger) *SQLArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLArchive{db: db, logger: logger}
}

// Record upserts the job's terminal state. A re-recorded id_hash (e.g. a
// crash between archive and queue move) overwrites rather than duplicates.
func (a *SQLArchive) Record(ctx context.Context, job *voxmodels.Job) error {
	var artifacts any
	if len(job.Artifacts) > 0 {
		data, err := json.Marshal(job.Artifacts)
		if err != nil {
			return fmt.Errorf("queue: marshal artifacts: %w", err)
		}
		artifacts = data
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO job_archive (id_hash, tag, user_id, user_email, question, routing_command, status, answer, error_message, is_cache_hit, job_type, created_at, started_at, completed_at, artifacts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id_hash) DO UPDATE SET
			status = EXCLUDED.status,
			answer = EXCLUDED.answer,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at,
			artifacts = EXCLUDED.artifacts
	`,
		job.IDHash,
		job.Tag,
		job.UserID,
		job.UserEmail,
		job.Question,
		job.RoutingCommand,
		string(job.Status),
		job.Answer,
		job.Error,
		job.IsCacheHit,
		job.JobType,
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		artifacts,
	)
	if err != nil {
		return fmt.Errorf("queue: archive job %s: %w", job.IDHash, err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
