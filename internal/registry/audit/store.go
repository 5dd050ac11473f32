package audit

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"batchroute/pkg/api"
)

// Store writes terminal job records to the job_audit table.
type Store struct {
	db *sql.DB
}

// New opens a Postgres connection pool at databaseURL and runs migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart upserts a pending/processing row when a job begins running.
func (s *Store) RecordStart(ctx context.Context, jobID string, cfg api.RoutingConfiguration, total int64, startedAt time.Time) error {
	query := `
		INSERT INTO job_audit (id, status, reference_code, file_id, total, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = $2, started_at = $6
	`
	_, err := s.db.ExecContext(ctx, query, jobID, api.JobProcessing, cfg.ReferenceCode, cfg.FileID, total, startedAt)
	return err
}

// RecordTerminal writes the final status, counters, and error for jobID.
func (s *Store) RecordTerminal(ctx context.Context, jobID string, status api.JobStatus, summary api.JobSummary, errMsg string, completedAt time.Time) error {
	query := `
		UPDATE job_audit
		SET status = $2, successful = $3, failed = $4, error_message = $5, completed_at = $6
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, jobID, status, summary.Successful, summary.Failed, errMsg, completedAt)
	return err
}

// AuditRecord is one row of the job_audit table, returned by List.
type AuditRecord struct {
	ID            string
	Status        api.JobStatus
	ReferenceCode string
	FileID        string
	Total         int64
	Successful    int64
	Failed        int64
	ErrorMessage  sql.NullString
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
	CreatedAt     time.Time
}

// List returns the most recent audit records, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]AuditRecord, error) {
	query := `
		SELECT id, status, reference_code, file_id, total, successful, failed,
		       error_message, started_at, completed_at, created_at
		FROM job_audit
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.Status, &r.ReferenceCode, &r.FileID, &r.Total, &r.Successful, &r.Failed,
			&r.ErrorMessage, &r.StartedAt, &r.CompletedAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
