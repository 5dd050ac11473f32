package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"batchroute/pkg/api"
)

// Client handles API calls to the batchroute server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope api.ErrorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}

	var envelope api.Envelope
	envelope.Data = out
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// UploadFile sends POST /api/upload with the file at path as the "file" part.
func (c *Client) UploadFile(path string) (api.UploadDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return api.UploadDescriptor{}, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return api.UploadDescriptor{}, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return api.UploadDescriptor{}, fmt.Errorf("copy file into multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return api.UploadDescriptor{}, fmt.Errorf("close multipart writer: %w", err)
	}

	var descriptor api.UploadDescriptor
	if err := c.do(http.MethodPost, "/api/upload", &buf, writer.FormDataContentType(), &descriptor); err != nil {
		return api.UploadDescriptor{}, err
	}
	return descriptor, nil
}

// SubmitBatch sends POST /api/routing/batch.
func (c *Client) SubmitBatch(cfg api.RoutingConfiguration) (api.SubmitJobResponse, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return api.SubmitJobResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var result api.SubmitJobResponse
	if err := c.do(http.MethodPost, "/api/routing/batch", bytes.NewReader(b), "application/json", &result); err != nil {
		return api.SubmitJobResponse{}, err
	}
	return result, nil
}

// Status sends GET /api/routing/status/:jobId.
func (c *Client) Status(jobID string) (api.JobSnapshot, error) {
	var snapshot api.JobSnapshot
	if err := c.do(http.MethodGet, "/api/routing/status/"+jobID, nil, "", &snapshot); err != nil {
		return api.JobSnapshot{}, err
	}
	return snapshot, nil
}

// Results sends GET /api/routing/results/:jobId.
func (c *Client) Results(jobID string) (api.BatchResult, error) {
	var result api.BatchResult
	if err := c.do(http.MethodGet, "/api/routing/results/"+jobID, nil, "", &result); err != nil {
		return api.BatchResult{}, err
	}
	return result, nil
}

// DownloadExport sends GET /api/routing/export/:jobId and writes the raw
// response body to outPath, since the export is the streamed GeoJSON file
// itself, not an enveloped JSON payload.
func (c *Client) DownloadExport(jobID, outPath string) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/api/routing/export/" + jobID)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// Cancel sends DELETE /api/routing/job/:jobId.
func (c *Client) Cancel(jobID string) error {
	return c.do(http.MethodDelete, "/api/routing/job/"+jobID, nil, "", nil)
}

// Cleanup sends DELETE /api/routing/job/:jobId/cleanup.
func (c *Client) Cleanup(jobID string) error {
	return c.do(http.MethodDelete, "/api/routing/job/"+jobID+"/cleanup", nil, "", nil)
}

// Retry sends POST /api/routing/retry/:jobId.
func (c *Client) Retry(jobID string) (api.SubmitJobResponse, error) {
	var result api.SubmitJobResponse
	if err := c.do(http.MethodPost, "/api/routing/retry/"+jobID, nil, "", &result); err != nil {
		return api.SubmitJobResponse{}, err
	}
	return result, nil
}
