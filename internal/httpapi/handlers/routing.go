package handlers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"batchroute/internal/apperr"
	"batchroute/internal/geojson"
	"batchroute/internal/resultwriter"
	"batchroute/pkg/api"
)

// SubmitBatch handles POST /api/routing/batch.
func (h *Handlers) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var cfg api.RoutingConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	fields := h.validateConfiguration(cfg)
	if len(fields) > 0 {
		h.respondValidation(w, fields)
		return
	}

	descriptor, err := h.uploads.Descriptor(cfg.FileID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if fields := validateColumns(cfg, descriptor.Columns); len(fields) > 0 {
		h.respondValidation(w, fields)
		return
	}

	if _, err := h.catalog.Get(cfg.ReferenceCode); err != nil {
		h.respondValidation(w, []api.FieldError{{Field: "referenceCode", Message: "unknown reference system"}})
		return
	}

	jobID := uuid.NewString()
	if _, err := h.registry.Create(jobID, cfg, descriptor.RowCount); err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, api.SubmitJobResponse{JobID: jobID})
}

func (h *Handlers) validateConfiguration(cfg api.RoutingConfiguration) []api.FieldError {
	var fields []api.FieldError
	if cfg.FileID == "" {
		fields = append(fields, api.FieldError{Field: "fileId", Message: "is required"})
	}
	if cfg.ReferenceCode == "" {
		fields = append(fields, api.FieldError{Field: "referenceCode", Message: "is required"})
	}
	if cfg.OriginFields.X == "" || cfg.OriginFields.Y == "" {
		fields = append(fields, api.FieldError{Field: "originFields", Message: "x and y column names are required"})
	}
	if cfg.DestinationFields.X == "" || cfg.DestinationFields.Y == "" {
		fields = append(fields, api.FieldError{Field: "destinationFields", Message: "x and y column names are required"})
	}
	return fields
}

// validateColumns checks that every field name the configuration
// references actually exists in the referenced upload (spec §3's data
// model invariant), so a job is rejected at submission time rather than
// silently failing every row at dispatch.
func validateColumns(cfg api.RoutingConfiguration, columns []string) []api.FieldError {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}

	var fields []api.FieldError
	check := func(field, name string) {
		if name != "" && !known[name] {
			fields = append(fields, api.FieldError{Field: field, Message: fmt.Sprintf("column %q not found in upload", name)})
		}
	}
	check("originFields.x", cfg.OriginFields.X)
	check("originFields.y", cfg.OriginFields.Y)
	check("destinationFields.x", cfg.DestinationFields.X)
	check("destinationFields.y", cfg.DestinationFields.Y)
	return fields
}

// Status handles GET /api/routing/status/:jobId.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	snapshot, err := h.registry.Get(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snapshot)
}

// Results handles GET /api/routing/results/:jobId.
func (h *Handlers) Results(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	snapshot, err := h.registry.Get(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if snapshot.Status != api.JobCompleted {
		h.respondError(w, apperr.Precondition("Job not completed yet"))
		return
	}

	resultPath, err := h.registry.ResultPath(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	outcomes, err := loadOutcomes(resultPath, failedSidecarPath(resultPath, jobID))
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindFatal, "failed to read job results", err))
		return
	}

	h.respondJSON(w, http.StatusOK, api.BatchResult{
		JobID: jobID,
		Summary: api.JobSummary{
			Total:      snapshot.Progress.Total,
			Successful: snapshot.Progress.Successful,
			Failed:     snapshot.Progress.Failed,
		},
		Outcomes: outcomes,
	})
}

// Export handles GET /api/routing/export/:jobId, streaming the result
// file from disk without materialising it in memory. If the file has
// been removed out-of-band, it falls back to re-materialising a feature
// collection from the job's successful outcomes (spec §7).
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	path, err := h.registry.ResultPath(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			h.respondError(w, apperr.Wrap(apperr.KindFatal, "result file unreadable", err))
			return
		}
		h.exportFallback(w, jobID, path)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindFatal, "result file unreadable", err))
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="routing_results_%s.geojson"`, jobID))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	io.Copy(w, f)
}

// exportFallback materialises a feature collection from the job's
// reconstructable successful outcomes when the on-disk result file is
// gone, so a completed job's export never 404s out from under a caller
// (spec §7: "falls back to in-memory materialisation ... if absent").
func (h *Handlers) exportFallback(w http.ResponseWriter, jobID, resultPath string) {
	outcomes, err := loadOutcomes(resultPath, failedSidecarPath(resultPath, jobID))
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindFatal, "failed to materialise export", err))
		return
	}

	features := make([]geojson.Feature, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Kind != api.OutcomeOK {
			continue
		}
		features = append(features, resultwriter.BuildFeature(o.RowIndex, o.OriginalFields, o.DistanceM, o.DurationS, o.Line))
	}

	b, err := json.Marshal(geojson.FeatureCollection{Type: "FeatureCollection", Features: features})
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindFatal, "failed to materialise export", err))
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="routing_results_%s.geojson"`, jobID))
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// Metadata handles GET /api/routing/metadata/:jobId.
func (h *Handlers) Metadata(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	snapshot, err := h.registry.Get(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if snapshot.Status != api.JobCompleted {
		h.respondError(w, apperr.Precondition("Job not completed yet"))
		return
	}

	path, err := h.registry.ResultPath(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	metadataPath := metadataPathFor(path, jobID)
	f, err := os.Open(metadataPath)
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindNotFound, "metadata file missing", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

// metadataPathFor derives the metadata sidecar's path from the result
// file's path, since both live alongside each other in RESULTS_DIR under
// filenames keyed by the same job id.
func metadataPathFor(resultPath, jobID string) string {
	dir := filepath.Dir(resultPath)
	return filepath.Join(dir, fmt.Sprintf("routing_metadata_%s.json", jobID))
}

// failedSidecarPath derives the dead-row sidecar's path the same way.
func failedSidecarPath(resultPath, jobID string) string {
	dir := filepath.Dir(resultPath)
	return filepath.Join(dir, fmt.Sprintf("routing_failed_%s.jsonl", jobID))
}

// loadOutcomes reconstructs the full per-row outcome list for a job from
// its two on-disk artifacts: successful rows from the written feature
// collection, failed rows from the dead-row sidecar. Either file may be
// absent (the result file can have been removed out-of-band; the sidecar
// is absent whenever every row succeeded) without this being an error —
// callers get back whatever is still reconstructable.
func loadOutcomes(resultPath, failedPath string) ([]api.RouteOutcome, error) {
	var outcomes []api.RouteOutcome

	successes, err := loadSuccessOutcomes(resultPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	outcomes = append(outcomes, successes...)

	failures, err := loadFailedOutcomes(failedPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	outcomes = append(outcomes, failures...)

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].RowIndex < outcomes[j].RowIndex })
	return outcomes, nil
}

// loadSuccessOutcomes decodes the written feature collection back into
// RouteOutcome values, undoing the property flattening BuildFeature did.
func loadSuccessOutcomes(resultPath string) ([]api.RouteOutcome, error) {
	b, err := os.ReadFile(resultPath)
	if err != nil {
		return nil, err
	}

	var collection geojson.FeatureCollection
	if err := json.Unmarshal(b, &collection); err != nil {
		return nil, fmt.Errorf("decode result file: %w", err)
	}

	outcomes := make([]api.RouteOutcome, 0, len(collection.Features))
	for _, f := range collection.Features {
		outcomes = append(outcomes, featureToOutcome(f))
	}
	return outcomes, nil
}

// featureToOutcome reverses BuildFeature: the derived properties
// (distance_km, duration_minutes) are dropped, distance/duration/rowIndex
// are restored to their typed fields, and everything else is treated as
// an original row field.
func featureToOutcome(f geojson.Feature) api.RouteOutcome {
	fields := make(map[string]string, len(f.Properties))
	var rowIndex int64
	var distanceM, durationS float64

	for k, v := range f.Properties {
		switch k {
		case "rowIndex":
			if n, ok := v.(float64); ok {
				rowIndex = int64(n)
			}
		case "distance":
			if n, ok := v.(float64); ok {
				distanceM = n
			}
		case "duration":
			if n, ok := v.(float64); ok {
				durationS = n
			}
		case "distance_km", "duration_minutes":
			// derived properties, not part of the original row
		default:
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
	}

	var line [][2]float64
	if f.Geometry != nil {
		line = f.Geometry.Coordinates
	}

	return api.RouteOutcome{
		RowIndex:       rowIndex,
		OriginalFields: fields,
		Kind:           api.OutcomeOK,
		DistanceM:      distanceM,
		DurationS:      durationS,
		Line:           line,
	}
}

// loadFailedOutcomes decodes the dead-row sidecar into RouteOutcome
// values.
func loadFailedOutcomes(failedPath string) ([]api.RouteOutcome, error) {
	f, err := os.Open(failedPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var outcomes []api.RouteOutcome
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row resultwriter.FailedRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, api.RouteOutcome{
			RowIndex:       row.RowIndex,
			OriginalFields: row.OriginalFields,
			Kind:           row.Kind,
			Error:          row.Error,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Cancel handles DELETE /api/routing/job/:jobId.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if _, err := h.registry.Cancel(jobID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, nil)
}

// Retry handles POST /api/routing/retry/:jobId: it reads the completed
// job's dead-row sidecar, synthesizes a new upload from just those rows,
// and submits a new job against the same configuration (supplemental
// dead-row retry feature; never triggered automatically). A failed job
// passes the status check but is then rejected with 400, because
// ResultPath only resolves completed jobs.
func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	snapshot, err := h.registry.Get(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if snapshot.Status != api.JobCompleted && snapshot.Status != api.JobFailed {
		h.respondError(w, apperr.Precondition("job not terminal yet"))
		return
	}

	resultPath, err := h.registry.ResultPath(jobID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	failedPath := failedSidecarPath(resultPath, jobID)

	rows, columns, err := readFailedRows(failedPath)
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindNotFound, "failed-row sidecar missing or unreadable", err))
		return
	}
	if len(rows) == 0 {
		h.respondError(w, apperr.Precondition("job has no failed rows to retry"))
		return
	}

	csvBytes, err := rowsToCSV(columns, rows)
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindFatal, "failed to synthesize retry upload", err))
		return
	}

	descriptor, err := h.uploads.IngestBytes(fmt.Sprintf("retry_%s.csv", jobID), csvBytes)
	if err != nil {
		h.respondError(w, err)
		return
	}

	retryCfg := snapshot.Configuration
	retryCfg.FileID = descriptor.FileID

	newJobID := uuid.NewString()
	if _, err := h.registry.Create(newJobID, retryCfg, descriptor.RowCount); err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, api.SubmitJobResponse{JobID: newJobID})
}

// readFailedRows parses a routing_failed_<jobId>.jsonl sidecar into the
// rows' original field maps, plus the union of column names in first-seen
// row order, sorted within each row (stable CSV header for the
// synthesized retry upload).
func readFailedRows(path string) ([]map[string]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var rows []map[string]string
	var columns []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row resultwriter.FailedRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, nil, err
		}
		keys := make([]string, 0, len(row.OriginalFields))
		for k := range row.OriginalFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
		rows = append(rows, row.OriginalFields)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return rows, columns, nil
}

// rowsToCSV renders the retried rows back into the CSV shape rowiter
// expects, so the retry job flows through the exact same ingestion path
// as a fresh upload.
func rowsToCSV(columns []string, rows []map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CleanupJob handles DELETE /api/routing/job/:jobId/cleanup.
func (h *Handlers) CleanupJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if _, err := h.registry.Cleanup(jobID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, nil)
}
