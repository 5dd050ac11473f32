package audit

import (
	"context"
	"testing"
	"time"

	"batchroute/pkg/api"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return &Store{db: db}, mock
}

func TestRecordStart(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	cfg := api.RoutingConfiguration{FileID: "file-1", ReferenceCode: "EPSG:2154"}
	started := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO job_audit`).
		WithArgs("job-1", api.JobProcessing, cfg.ReferenceCode, cfg.FileID, int64(10), started).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RecordStart(context.Background(), "job-1", cfg, 10, started); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	summary := api.JobSummary{Successful: 8, Failed: 2}
	completed := time.Now().UTC()

	mock.ExpectExec(`UPDATE job_audit`).
		WithArgs("job-1", api.JobCompleted, summary.Successful, summary.Failed, "", completed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RecordTerminal(context.Background(), "job-1", api.JobCompleted, summary, "", completed); err != nil {
		t.Fatalf("RecordTerminal: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestList(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, status, reference_code, file_id, total, successful, failed`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "reference_code", "file_id", "total", "successful", "failed",
			"error_message", "started_at", "completed_at", "created_at",
		}).AddRow("job-1", "completed", "EPSG:4326", "file-1", 10, 9, 1, "", now, now, now))

	records, err := s.List(context.Background(), 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].ID != "job-1" {
		t.Errorf("got ID %q, want job-1", records[0].ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
