package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelforge/internal/models"
)

// Audit events written by the job runner.
const (
	EventCreated   = "created"
	EventFinished  = "finished"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// Store wraps pgxpool for the job audit trail. Jobs themselves stay in memory;
// nothing is restored from these rows.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Record appends an audit row.
func (s *Store) Record(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_audit (job_id, event, detail, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, emptyToNil(detail))
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// History returns a job's audit rows, oldest first.
func (s *Store) History(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, event, detail, recorded_at
		FROM job_audit WHERE job_id = $1
		ORDER BY recorded_at, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var (
			entry  models.AuditLog
			detail pgtype.Text
		)
		if err := rows.Scan(&entry.JobID, &entry.Event, &detail, &entry.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if p := textPtr(detail); p != nil {
			entry.Detail = *p
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
