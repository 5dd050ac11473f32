package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"batchroute/internal/geojson"
	"batchroute/internal/projcatalog"
	"batchroute/internal/registry"
	"batchroute/internal/resultwriter"
	"batchroute/internal/upload"
	"batchroute/pkg/api"
)

// fakeRunner drives every job to a terminal state synchronously with a
// canned outcome. The failRows map, keyed by configured FileID, lists the
// failed rows written to each job's sidecar, so multiple jobs in one test
// can behave differently.
type fakeRunner struct {
	resultsDir string
	failRows   map[string][]resultwriter.FailedRow
}

func (f *fakeRunner) Run(ctx context.Context, jobID string, cfg api.RoutingConfiguration, total int64) (api.JobSummary, string, string, error) {
	sink, err := resultwriter.Open(f.resultsDir, jobID)
	if err != nil {
		return api.JobSummary{}, "", "", err
	}

	failed := f.failRows[cfg.FileID]
	for _, row := range failed {
		sink.WriteFailedRow(row)
	}

	summary := api.JobSummary{Total: total, Successful: total - int64(len(failed)), Failed: int64(len(failed))}
	if err := sink.Close(summary, api.JobTiming{}, cfg); err != nil {
		return api.JobSummary{}, "", "", err
	}
	return summary, sink.ResultPath(), sink.MetadataPath(), nil
}

func newTestHandlers(t *testing.T, runner *fakeRunner) (*Handlers, *upload.Store, *registry.Registry) {
	t.Helper()
	uploads := upload.New(t.TempDir())
	reg := registry.New(runner, 100)
	catalog := projcatalog.New()
	h := New(Deps{Registry: reg, Uploads: uploads, Catalog: catalog})
	return h, uploads, reg
}

func ingestCSV(t *testing.T, uploads *upload.Store, content string) api.UploadDescriptor {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", "rows.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte(content))
	w.Close()

	reader := multipart.NewReader(&body, w.Boundary())
	part, err := reader.NextPart()
	if err != nil {
		t.Fatalf("read part: %v", err)
	}
	desc, err := uploads.Ingest(part)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return desc
}

func waitForJobTerminal(t *testing.T, reg *registry.Registry, jobID string) api.JobSnapshot {
	t.Helper()
	for i := 0; i < 500; i++ {
		snap, err := reg.Get(jobID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if snap.Status == api.JobCompleted || snap.Status == api.JobFailed {
			return snap
		}
	}
	t.Fatal("job did not reach a terminal state in time")
	return api.JobSnapshot{}
}

func decodeEnvelope(t *testing.T, body []byte, out any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got failure: %s", body)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func TestSubmitBatchAndStatus(t *testing.T) {
	h, uploads, reg := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})
	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n")

	cfg := api.RoutingConfiguration{
		FileID:            desc.FileID,
		ReferenceCode:     "EPSG:4326",
		OriginFields:      api.FieldPair{X: "olon", Y: "olat"},
		DestinationFields: api.FieldPair{X: "dlon", Y: "dlat"},
	}
	body, _ := json.Marshal(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/routing/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitBatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var submitResp api.SubmitJobResponse
	decodeEnvelope(t, rec.Body.Bytes(), &submitResp)
	if submitResp.JobID == "" {
		t.Fatal("expected a job id")
	}

	waitForJobTerminal(t, reg, submitResp.JobID)

	statusReq := httptest.NewRequest(http.MethodGet, "/api/routing/status/"+submitResp.JobID, nil)
	statusReq.SetPathValue("jobId", submitResp.JobID)
	statusRec := httptest.NewRecorder()
	h.Status(statusRec, statusReq)

	var snap api.JobSnapshot
	decodeEnvelope(t, statusRec.Body.Bytes(), &snap)
	if snap.Status != api.JobCompleted {
		t.Errorf("expected completed, got %v", snap.Status)
	}
}

func TestSubmitBatchValidationFailure(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})

	body, _ := json.Marshal(api.RoutingConfiguration{})
	req := httptest.NewRequest(http.MethodPost, "/api/routing/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitBatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitBatchRejectsUnknownColumns(t *testing.T) {
	h, uploads, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})
	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n")

	cfg := api.RoutingConfiguration{
		FileID:            desc.FileID,
		ReferenceCode:     "EPSG:4326",
		OriginFields:      api.FieldPair{X: "olon", Y: "not_a_column"},
		DestinationFields: api.FieldPair{X: "dlon", Y: "dlat"},
	}
	body, _ := json.Marshal(cfg)
	req := httptest.NewRequest(http.MethodPost, "/api/routing/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitBatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a column name absent from the upload, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitBatchUnknownReference(t *testing.T) {
	h, uploads, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})
	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n")

	cfg := api.RoutingConfiguration{
		FileID:            desc.FileID,
		ReferenceCode:     "EPSG:99999",
		OriginFields:      api.FieldPair{X: "olon", Y: "olat"},
		DestinationFields: api.FieldPair{X: "dlon", Y: "dlat"},
	}
	body, _ := json.Marshal(cfg)
	req := httptest.NewRequest(http.MethodPost, "/api/routing/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.SubmitBatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown reference, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusNotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})
	req := httptest.NewRequest(http.MethodGet, "/api/routing/status/missing", nil)
	req.SetPathValue("jobId", "missing")
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRetryResubmitsFailedRows(t *testing.T) {
	resultsDir := t.TempDir()
	runner := &fakeRunner{resultsDir: resultsDir, failRows: map[string][]resultwriter.FailedRow{}}
	h, uploads, reg := newTestHandlers(t, runner)

	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n2,2,3,3\n")
	runner.failRows[desc.FileID] = []resultwriter.FailedRow{
		{RowIndex: 1, OriginalFields: map[string]string{"olon": "2", "olat": "2", "dlon": "3", "dlat": "3"}, Kind: api.OutcomeNoRoute},
	}

	jobID, err := reg.Create("orig-job", api.RoutingConfiguration{FileID: desc.FileID}, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForJobTerminal(t, reg, jobID)

	req := httptest.NewRequest(http.MethodPost, "/api/routing/retry/"+jobID, nil)
	req.SetPathValue("jobId", jobID)
	rec := httptest.NewRecorder()
	h.Retry(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.SubmitJobResponse
	decodeEnvelope(t, rec.Body.Bytes(), &resp)
	if resp.JobID == "" || resp.JobID == jobID {
		t.Errorf("expected a fresh job id, got %q", resp.JobID)
	}

	waitForJobTerminal(t, reg, resp.JobID)
}

func TestRetryUnknownJobNotFound(t *testing.T) {
	resultsDir := t.TempDir()
	runner := &fakeRunner{resultsDir: resultsDir}
	h, _, reg := newTestHandlers(t, runner)

	// Directly probe a job id that was never created, which is terminal
	// to neither status and surfaces as not-found instead.
	req := httptest.NewRequest(http.MethodPost, "/api/routing/retry/nope", nil)
	req.SetPathValue("jobId", "nope")
	rec := httptest.NewRecorder()
	h.Retry(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown job, got %d", rec.Code)
	}
	_ = reg
}

func TestRetryNoFailedRows(t *testing.T) {
	resultsDir := t.TempDir()
	runner := &fakeRunner{resultsDir: resultsDir, failRows: map[string][]resultwriter.FailedRow{}}
	h, uploads, reg := newTestHandlers(t, runner)

	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n")

	jobID, err := reg.Create("job-clean", api.RoutingConfiguration{FileID: desc.FileID}, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForJobTerminal(t, reg, jobID)

	req := httptest.NewRequest(http.MethodPost, "/api/routing/retry/"+jobID, nil)
	req.SetPathValue("jobId", jobID)
	rec := httptest.NewRecorder()
	h.Retry(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when there are no failed rows to retry, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestResultsIncludesOutcomes(t *testing.T) {
	resultsDir := t.TempDir()
	runner := &fakeRunner{resultsDir: resultsDir, failRows: map[string][]resultwriter.FailedRow{}}
	h, uploads, reg := newTestHandlers(t, runner)

	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n2,2,3,3\n")
	runner.failRows[desc.FileID] = []resultwriter.FailedRow{
		{RowIndex: 1, OriginalFields: map[string]string{"olon": "2", "olat": "2", "dlon": "3", "dlat": "3"}, Kind: api.OutcomeNoRoute},
	}

	jobID, err := reg.Create("results-job", api.RoutingConfiguration{FileID: desc.FileID}, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForJobTerminal(t, reg, jobID)

	req := httptest.NewRequest(http.MethodGet, "/api/routing/results/"+jobID, nil)
	req.SetPathValue("jobId", jobID)
	rec := httptest.NewRecorder()
	h.Results(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result api.BatchResult
	decodeEnvelope(t, rec.Body.Bytes(), &result)

	if len(result.Outcomes) != 1 {
		t.Fatalf("expected 1 reconstructed outcome, got %d: %+v", len(result.Outcomes), result.Outcomes)
	}
	if result.Outcomes[0].Kind != api.OutcomeNoRoute || result.Outcomes[0].RowIndex != 1 {
		t.Errorf("expected the failed row outcome to round-trip, got %+v", result.Outcomes[0])
	}
}

func TestExportFallsBackWhenResultFileRemoved(t *testing.T) {
	resultsDir := t.TempDir()
	runner := &fakeRunner{resultsDir: resultsDir}
	h, uploads, reg := newTestHandlers(t, runner)

	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n")
	jobID, err := reg.Create("export-job", api.RoutingConfiguration{FileID: desc.FileID}, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForJobTerminal(t, reg, jobID)

	resultPath, err := reg.ResultPath(jobID)
	if err != nil {
		t.Fatalf("result path: %v", err)
	}
	if err := os.Remove(resultPath); err != nil {
		t.Fatalf("remove result file: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/routing/export/"+jobID, nil)
	req.SetPathValue("jobId", jobID)
	rec := httptest.NewRecorder()
	h.Export(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the export to fall back to 200 when the file is missing, got %d: %s", rec.Code, rec.Body.String())
	}
	var collection geojson.FeatureCollection
	if err := json.Unmarshal(rec.Body.Bytes(), &collection); err != nil {
		t.Fatalf("expected a valid feature collection, got: %s", rec.Body.String())
	}
	if collection.Type != "FeatureCollection" {
		t.Errorf("expected type FeatureCollection, got %q", collection.Type)
	}
}

func TestCleanupRemovesTerminalJob(t *testing.T) {
	h, uploads, reg := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})
	desc := ingestCSV(t, uploads, "olon,olat,dlon,dlat\n0,0,1,1\n")

	jobID, err := reg.Create("job-x", api.RoutingConfiguration{FileID: desc.FileID}, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitForJobTerminal(t, reg, jobID)

	cleanupReq := httptest.NewRequest(http.MethodDelete, "/api/routing/job/"+jobID+"/cleanup", nil)
	cleanupReq.SetPathValue("jobId", jobID)
	cleanupRec := httptest.NewRecorder()
	h.CleanupJob(cleanupRec, cleanupReq)

	if cleanupRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", cleanupRec.Code, cleanupRec.Body.String())
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/api/routing/status/"+jobID, nil)
	statusReq.SetPathValue("jobId", jobID)
	statusRec := httptest.NewRecorder()
	h.Status(statusRec, statusReq)
	if statusRec.Code != http.StatusNotFound {
		t.Errorf("expected job to be gone after cleanup, got %d", statusRec.Code)
	}
}
