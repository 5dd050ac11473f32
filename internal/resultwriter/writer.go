// Package resultwriter implements C5: the streaming per-job feature
// collection writer and its sibling metadata document.
package resultwriter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"batchroute/internal/geojson"
	"batchroute/pkg/api"
)

const header = `{"type":"FeatureCollection","features":[`
const footer = `]}`

// Writer streams one job's feature collection to disk, never buffering
// more than one feature in memory (spec §4.5).
type Writer struct {
	jobID        string
	resultsDir   string
	resultPath   string
	metadataPath string

	f        *os.File
	buf      *bufio.Writer
	wroteAny bool
	closed   bool

	failedSidecar *os.File
	failedBuf     *bufio.Writer
}

// Open creates the result file for jobID under resultsDir and writes its
// header, ready to accept features.
func Open(resultsDir, jobID string) (*Writer, error) {
	resultPath := filepath.Join(resultsDir, fmt.Sprintf("routing_results_%s.geojson", jobID))
	metadataPath := filepath.Join(resultsDir, fmt.Sprintf("routing_metadata_%s.json", jobID))
	failedPath := filepath.Join(resultsDir, fmt.Sprintf("routing_failed_%s.jsonl", jobID))

	f, err := os.Create(resultPath)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}

	buf := bufio.NewWriter(f)
	if _, err := buf.WriteString(header); err != nil {
		f.Close()
		os.Remove(resultPath)
		return nil, fmt.Errorf("write result header: %w", err)
	}

	failedFile, err := os.Create(failedPath)
	if err != nil {
		buf.Flush()
		f.Close()
		os.Remove(resultPath)
		return nil, fmt.Errorf("create failed-row sidecar: %w", err)
	}

	return &Writer{
		jobID:         jobID,
		resultsDir:    resultsDir,
		resultPath:    resultPath,
		metadataPath:  metadataPath,
		f:             f,
		buf:           buf,
		failedSidecar: failedFile,
		failedBuf:     bufio.NewWriter(failedFile),
	}, nil
}

// ResultPath returns the path of the feature collection file.
func (w *Writer) ResultPath() string { return w.resultPath }

// MetadataPath returns the path of the sibling metadata document.
func (w *Writer) MetadataPath() string { return w.metadataPath }

// WriteFeature appends one successful row's feature to the collection.
// Failed rows must never be passed here (spec §4.5: "omitted from the
// feature collection but counted in the summary").
func (w *Writer) WriteFeature(f geojson.Feature) error {
	if w.wroteAny {
		if _, err := w.buf.WriteString(","); err != nil {
			return fmt.Errorf("write feature separator: %w", err)
		}
	}

	b, err := geojson.MarshalFeature(f)
	if err != nil {
		return fmt.Errorf("marshal feature: %w", err)
	}
	if _, err := w.buf.Write(b); err != nil {
		return fmt.Errorf("write feature: %w", err)
	}

	w.wroteAny = true
	return nil
}

// FailedRow is one row that never produced a feature — either malformed,
// out of range, or rejected by the routing daemon. Recorded to the
// failed-row sidecar so routectl can retry the dead rows later
// (supplemental feature: dead-row retry).
type FailedRow struct {
	RowIndex       int64                `json:"rowIndex"`
	OriginalFields map[string]string    `json:"originalFields"`
	Kind           api.RouteOutcomeKind `json:"kind"`
	Error          string               `json:"error,omitempty"`
}

// WriteFailedRow appends one failed row's detail to the dead-row sidecar.
func (w *Writer) WriteFailedRow(row FailedRow) error {
	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal failed row: %w", err)
	}
	if _, err := w.failedBuf.Write(b); err != nil {
		return fmt.Errorf("write failed row: %w", err)
	}
	if _, err := w.failedBuf.WriteString("\n"); err != nil {
		return fmt.Errorf("write failed row newline: %w", err)
	}
	return nil
}

// Close writes the closing bracket, flushes, writes the metadata sidecar,
// and releases file handles. It must be called exactly once per Writer.
func (w *Writer) Close(summary api.JobSummary, timing api.JobTiming, cfg api.RoutingConfiguration) error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.buf.WriteString(footer); err != nil {
		w.cleanupOnError()
		return fmt.Errorf("write result footer: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.cleanupOnError()
		return fmt.Errorf("flush result file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		w.cleanupOnError()
		return fmt.Errorf("close result file: %w", err)
	}

	if err := w.failedBuf.Flush(); err != nil {
		return fmt.Errorf("flush failed-row sidecar: %w", err)
	}
	if err := w.failedSidecar.Close(); err != nil {
		return fmt.Errorf("close failed-row sidecar: %w", err)
	}

	metadata := api.JobMetadata{
		JobID:          w.jobID,
		Summary:        summary,
		GeneratedAt:    time.Now().UTC(),
		Configuration:  cfg,
		Timing:         timing,
		ResultFileName: filepath.Base(w.resultPath),
		MetadataFile:   filepath.Base(w.metadataPath),
	}

	if err := writeMetadataAtomic(w.metadataPath, metadata); err != nil {
		w.cleanupOnError()
		return fmt.Errorf("write metadata sidecar: %w", err)
	}

	return nil
}

// Abort closes the writer after a fatal error (iterator I/O error, sink
// write error, or cancellation): it deletes the partial result file so
// that no partial footer-less file is ever mistaken for a complete one
// (spec §4.5, §8 invariant 5).
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.f.Close()
	w.failedBuf.Flush()
	w.failedSidecar.Close()
	os.Remove(w.resultPath)
}

func (w *Writer) cleanupOnError() {
	os.Remove(w.resultPath)
	os.Remove(w.metadataPath)
}

// writeMetadataAtomic writes the metadata document to a temp file in the
// same directory, then renames it into place, so a crash mid-write never
// leaves a half-written metadata sidecar (spec §8 invariant 7).
func writeMetadataAtomic(path string, v any) error {
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// BuildFeature assembles the feature for a successfully-routed row,
// including the derived distance_km / duration_minutes properties (spec
// §4.5).
func BuildFeature(rowIndex int64, originalFields map[string]string, distanceM, durationS float64, line [][2]float64) geojson.Feature {
	props := make(map[string]any, len(originalFields)+5)
	for k, v := range originalFields {
		props[k] = v
	}
	props["distance"] = distanceM
	props["duration"] = durationS
	props["distance_km"] = roundTo(distanceM/1000, 2)
	props["duration_minutes"] = roundTo(durationS/60, 2)
	props["rowIndex"] = rowIndex

	var geom *geojson.Geometry
	if len(line) > 0 {
		geom = geojson.NewLineString(line)
	}

	return geojson.Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: props,
	}
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
