// Package upload implements the minimal boundary around uploaded tabular
// files: multipart ingestion, naive separator/encoding/decimal-mark
// detection, and the descriptor lookups the dispatcher and sample endpoint
// need. The detection heuristics themselves are explicitly out of scope
// (spec's upload endpoint is listed only as an external interface, not a
// component) — this package exists to give C3's UploadResolver contract
// something concrete to resolve against.
package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"batchroute/internal/apperr"
	"batchroute/internal/rowiter"
	"batchroute/pkg/api"
)

// MaxUploadBytes is the default ceiling on an ingested file's size.
const MaxUploadBytes = 50 * 1024 * 1024

// Store tracks descriptors for uploaded files and resolves FileIDs to the
// on-disk path and decoding options the row iterator needs.
type Store struct {
	dir string

	mu    sync.RWMutex
	byID  map[string]api.UploadDescriptor
	paths map[string]string
}

// New constructs a Store rooted at dir (UPLOAD_DIR).
func New(dir string) *Store {
	return &Store{
		dir:   dir,
		byID:  make(map[string]api.UploadDescriptor),
		paths: make(map[string]string),
	}
}

// Ingest reads part fully (bounded by MaxUploadBytes), detects its
// separator/encoding/decimal mark, writes it to UPLOAD_DIR under a
// FileID-prefixed name, and returns its descriptor.
func (s *Store) Ingest(part *multipart.Part) (api.UploadDescriptor, error) {
	limited := io.LimitReader(part, MaxUploadBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return api.UploadDescriptor{}, apperr.Wrap(apperr.KindValidation, "failed to read upload", err)
	}
	if len(raw) > MaxUploadBytes {
		return api.UploadDescriptor{}, apperr.Validation("upload exceeds maximum size")
	}

	name := part.FileName()
	if name == "" {
		name = "upload.csv"
	}
	return s.IngestBytes(name, raw)
}

// IngestBytes registers raw as a new upload under name, bypassing the
// multipart boundary. Used directly by multipart Ingest and by the
// dead-row retry handler, which synthesizes a CSV from a prior job's
// failed-row sidecar rather than receiving one over HTTP.
func (s *Store) IngestBytes(name string, raw []byte) (api.UploadDescriptor, error) {
	if len(raw) == 0 {
		return api.UploadDescriptor{}, apperr.Validation("upload is empty")
	}

	encoding := detectEncoding(raw)
	separator := detectSeparator(raw)
	decimalSep := detectDecimalSeparator(raw, separator)

	fileID := uuid.NewString()
	storedName := fmt.Sprintf("%s_%s", fileID, filepath.Base(name))
	path := filepath.Join(s.dir, storedName)

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return api.UploadDescriptor{}, fmt.Errorf("write upload to disk: %w", err)
	}

	headers, rowCount, err := countRows(path, separator, encoding)
	if err != nil {
		os.Remove(path)
		return api.UploadDescriptor{}, apperr.Wrap(apperr.KindValidation, "failed to parse upload", err)
	}

	descriptor := api.UploadDescriptor{
		FileID:     fileID,
		Name:       name,
		Size:       int64(len(raw)),
		Encoding:   encoding,
		Separator:  string(separator),
		DecimalSep: decimalSep,
		Columns:    headers,
		RowCount:   rowCount,
	}

	s.mu.Lock()
	s.byID[fileID] = descriptor
	s.paths[fileID] = path
	s.mu.Unlock()

	return descriptor, nil
}

// Descriptor returns the stored descriptor for fileID.
func (s *Store) Descriptor(fileID string) (api.UploadDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[fileID]
	if !ok {
		return api.UploadDescriptor{}, apperr.NotFound(fmt.Sprintf("upload %s not found", fileID))
	}
	return d, nil
}

// Sample returns the first limit rows of fileID alongside the header row
// and total row count, for GET /api/upload/:fileId/sample.
func (s *Store) Sample(fileID string, limit int) (api.SampleResponse, error) {
	descriptor, err := s.Descriptor(fileID)
	if err != nil {
		return api.SampleResponse{}, err
	}

	path, opts, err := s.resolveLocked(fileID)
	if err != nil {
		return api.SampleResponse{}, err
	}

	it, err := rowiter.Open(path, descriptor.RowCount, opts)
	if err != nil {
		return api.SampleResponse{}, fmt.Errorf("open upload for sampling: %w", err)
	}
	defer it.Close()

	var sample []map[string]string
	for len(sample) < limit {
		row, ok := it.Next()
		if !ok {
			break
		}
		if row.Malformed {
			continue
		}
		sample = append(sample, row.Fields)
	}

	return api.SampleResponse{
		Headers:   descriptor.Columns,
		Sample:    sample,
		TotalRows: descriptor.RowCount,
	}, nil
}

// Resolve implements dispatcher.UploadResolver.
func (s *Store) Resolve(fileID string) (string, int64, rowiter.Options, error) {
	descriptor, err := s.Descriptor(fileID)
	if err != nil {
		return "", 0, rowiter.Options{}, err
	}
	path, opts, err := s.resolveLocked(fileID)
	if err != nil {
		return "", 0, rowiter.Options{}, err
	}
	return path, descriptor.RowCount, opts, nil
}

func (s *Store) resolveLocked(fileID string) (string, rowiter.Options, error) {
	s.mu.RLock()
	path, ok := s.paths[fileID]
	descriptor := s.byID[fileID]
	s.mu.RUnlock()
	if !ok {
		return "", rowiter.Options{}, apperr.NotFound(fmt.Sprintf("upload %s not found", fileID))
	}

	sep := ','
	if descriptor.Separator != "" {
		sep = []rune(descriptor.Separator)[0]
	}

	return path, rowiter.Options{
		Separator:  sep,
		Encoding:   descriptor.Encoding,
		DecimalSep: descriptor.DecimalSep,
	}, nil
}

// Remove deletes fileID's on-disk file and descriptor, used by the upload
// housekeeper (FILE_CLEANUP_INTERVAL / IMMEDIATE_CLEANUP).
func (s *Store) Remove(fileID string) error {
	s.mu.Lock()
	path, ok := s.paths[fileID]
	delete(s.paths, fileID)
	delete(s.byID, fileID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return os.Remove(path)
}

func detectEncoding(raw []byte) string {
	if utf8.Valid(raw) {
		return "utf-8"
	}
	return "latin1"
}

func detectSeparator(raw []byte) rune {
	firstLine := firstLineOf(raw)
	candidates := []rune{',', ';', '\t'}
	best := ','
	bestCount := -1
	for _, c := range candidates {
		count := strings.Count(firstLine, string(c))
		if count > bestCount {
			bestCount = count
			best = c
		}
	}
	return best
}

func detectDecimalSeparator(raw []byte, separator rune) string {
	if separator == ';' {
		return ","
	}
	return "."
}

func firstLineOf(raw []byte) string {
	idx := bytes.IndexByte(raw, '\n')
	if idx == -1 {
		return string(raw)
	}
	return string(raw[:idx])
}

// countRows opens a throwaway row iterator over the just-written upload
// file purely to get the header row and row count at ingest time,
// reusing C3's CSV parsing rather than duplicating it.
func countRows(path string, separator rune, encoding string) ([]string, int64, error) {
	it, err := rowiter.Open(path, 0, rowiter.Options{Separator: separator, Encoding: encoding})
	if err != nil {
		return nil, 0, err
	}
	defer it.Close()

	headers := it.Headers()
	var count int64
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	return headers, count, nil
}
