package iolog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// SQLStore is the durable Store over Postgres/CockroachDB. Embedding
// vectors are stored as JSON arrays alongside the row text.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLStore wraps an open *sql.DB. logger defaults to slog.Default()
// when nil.
func NewSQLStore(db *sql.DB, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, logger: logger}
}

func (s *SQLStore) Append(row voxmodels.IOLogRow) error {
	inEmb, err := marshalVector(row.InputEmbedding)
	if err != nil {
		return err
	}
	outEmb, err := marshalVector(row.OutputFinalEmbedding)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO io_log (log_date, log_time, logged_at, input_type, input, input_embedding, output_raw, output_final, output_final_embedding, solution_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		row.Date,
		row.Time,
		row.Timestamp,
		row.InputType,
		row.Input,
		inEmb,
		row.OutputRaw,
		row.OutputFinal,
		outEmb,
		nullablePath(row.SolutionPath),
	)
	if err != nil {
		return fmt.Errorf("iolog: insert row: %w", err)
	}
	return nil
}

// All returns every row oldest-first. Query failures are logged and yield
// an empty slice so the read-side query operations degrade rather than
// fail.
func (s *SQLStore) All() []voxmodels.IOLogRow {
	rows, err := s.db.Query(`
		SELECT log_date, log_time, logged_at, input_type, input, input_embedding, output_raw, output_final, output_final_embedding, solution_path
		FROM io_log
		ORDER BY id ASC
	`)
	if err != nil {
		s.logger.Warn("iolog: query rows", "error", err)
		return nil
	}
	defer rows.Close()

	var out []voxmodels.IOLogRow
	for rows.Next() {
		var r voxmodels.IOLogRow
		var inEmb, outEmb []byte
		var solutionPath sql.NullString
		if err := rows.Scan(&r.Date, &r.Time, &r.Timestamp, &r.InputType, &r.Input, &inEmb, &r.OutputRaw, &r.OutputFinal, &outEmb, &solutionPath); err != nil {
			s.logger.Warn("iolog: scan row", "error", err)
			return out
		}
		r.InputEmbedding = unmarshalVector(inEmb, s.logger)
		r.OutputFinalEmbedding = unmarshalVector(outEmb, s.logger)
		if solutionPath.Valid {
			r.SolutionPath = &solutionPath.String
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("iolog: iterate rows", "error", err)
	}
	return out
}

func marshalVector(vec []float32) (any, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("iolog: marshal embedding: %w", err)
	}
	return data, nil
}

func unmarshalVector(data []byte, logger *slog.Logger) []float32 {
	if len(data) == 0 {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		logger.Warn("iolog: decode embedding", "error", err)
		return nil
	}
	return vec
}

func nullablePath(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
