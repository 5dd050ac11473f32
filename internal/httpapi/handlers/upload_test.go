package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"batchroute/pkg/api"
)

func TestUploadHandlerStoresFile(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})

	srv := httptest.NewServer(http.HandlerFunc(h.Upload))
	defer srv.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", "rows.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte("lon,lat\n1,2\n3,4\n"))
	w.Close()

	resp, err := http.Post(srv.URL, w.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)

	var desc api.UploadDescriptor
	decodeEnvelope(t, buf.Bytes(), &desc)
	if desc.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", desc.RowCount)
	}
}

func TestUploadHandlerRejectsNonMultipart(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader([]byte("not multipart")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSampleHandlerReturnsRows(t *testing.T) {
	h, uploads, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})
	desc := ingestCSV(t, uploads, "lon,lat\n1,2\n3,4\n5,6\n")

	req := httptest.NewRequest(http.MethodGet, "/api/upload/"+desc.FileID+"/sample?limit=2", nil)
	req.SetPathValue("fileId", desc.FileID)
	rec := httptest.NewRecorder()
	h.Sample(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var sample api.SampleResponse
	decodeEnvelope(t, rec.Body.Bytes(), &sample)
	if len(sample.Sample) != 2 {
		t.Errorf("expected 2 sampled rows, got %d", len(sample.Sample))
	}
}

func TestSampleHandlerInvalidLimit(t *testing.T) {
	h, uploads, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})
	desc := ingestCSV(t, uploads, "lon,lat\n1,2\n")

	req := httptest.NewRequest(http.MethodGet, "/api/upload/"+desc.FileID+"/sample?limit=-1", nil)
	req.SetPathValue("fileId", desc.FileID)
	rec := httptest.NewRecorder()
	h.Sample(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListProjectionsHandler(t *testing.T) {
	h, _, _ := newTestHandlers(t, &fakeRunner{resultsDir: t.TempDir()})

	req := httptest.NewRequest(http.MethodGet, "/api/projections", nil)
	rec := httptest.NewRecorder()
	h.ListProjections(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var list []json.RawMessage
	decodeEnvelope(t, rec.Body.Bytes(), &list)
	if len(list) == 0 {
		t.Error("expected at least one built-in reference descriptor")
	}
}
