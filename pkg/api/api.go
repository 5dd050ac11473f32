// Package api contains the shared JSON request/response contracts between
// the HTTP boundary, the WebSocket channel, and routectl.
package api

import "time"

// ReferenceDescriptor describes a coordinate reference system entry from
// the static CRS catalog (spec §3, Coordinate Reference Descriptor).
type ReferenceDescriptor struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region string `json:"region"`
	Datum  string `json:"datum"`
	Proj4  string `json:"proj4"`
}

// UploadDescriptor mirrors the immutable upload metadata produced by the
// (non-goal) upload endpoint.
type UploadDescriptor struct {
	FileID     string   `json:"file_id"`
	Name       string   `json:"name"`
	Size       int64    `json:"size"`
	Encoding   string   `json:"encoding"`
	Separator  string   `json:"separator"`
	DecimalSep string   `json:"decimal_separator"`
	Columns    []string `json:"columns"`
	RowCount   int64    `json:"row_count"`
}

// SampleResponse is the payload for GET /api/upload/:fileId/sample.
type SampleResponse struct {
	Headers   []string            `json:"headers"`
	Sample    []map[string]string `json:"sample"`
	TotalRows int64               `json:"totalRows"`
}

// GeometryPolicy describes how routed polylines are post-processed before
// being written to the feature collection (spec §4.4). SimplifyTolerance is
// expressed in degrees of perpendicular distance in the WGS84 plane (spec
// §9, Open Question: Douglas-Peucker tolerance units — retained as degrees).
type GeometryPolicy struct {
	ExportGeometry    bool     `json:"exportGeometry"`
	StraightLine      bool     `json:"straightLine"`
	Simplify          bool     `json:"simplify"`
	SimplifyTolerance *float64 `json:"simplifyTolerance,omitempty"`
}

// FieldPair names the x/y column pair for an origin or destination.
type FieldPair struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// RoutingConfiguration is the request body for POST /api/routing/batch.
type RoutingConfiguration struct {
	FileID            string         `json:"fileId"`
	ReferenceCode     string         `json:"referenceCode"`
	OriginFields      FieldPair      `json:"originFields"`
	DestinationFields FieldPair      `json:"destinationFields"`
	Geometry          GeometryPolicy `json:"geometry"`
	OutputFormat      string         `json:"outputFormat,omitempty"`
}

// SubmitJobResponse is returned by POST /api/routing/batch.
type SubmitJobResponse struct {
	JobID string `json:"jobId"`
}

// JobStatus is one of the four states in spec §3's Job state machine.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Progress mirrors the Job.progress counters.
type Progress struct {
	Total      int64 `json:"total"`
	Processed  int64 `json:"processed"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// JobSnapshot is the read-only view of a Job returned to API callers.
type JobSnapshot struct {
	ID            string               `json:"id"`
	Status        JobStatus            `json:"status"`
	Progress      Progress             `json:"progress"`
	StartedAt     *time.Time           `json:"startedAt,omitempty"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`
	Configuration RoutingConfiguration `json:"configuration"`
	Error         string               `json:"error,omitempty"`
}

// JobSummary is the aggregate block written into the metadata sidecar and
// returned by the results endpoint.
type JobSummary struct {
	Total          int64   `json:"total"`
	Successful     int64   `json:"successful"`
	Failed         int64   `json:"failed"`
	TotalDistanceM float64 `json:"totalDistanceMeters"`
	TotalDurationS float64 `json:"totalDurationSeconds"`
}

// JobTiming records wall-clock timing for a terminal job.
type JobTiming struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMs  int64     `json:"durationMs"`
}

// JobMetadata is the sibling document written by the Result Writer on close.
type JobMetadata struct {
	JobID          string               `json:"jobId"`
	Summary        JobSummary           `json:"summary"`
	GeneratedAt    time.Time            `json:"generatedAt"`
	Configuration  RoutingConfiguration `json:"configuration"`
	Timing         JobTiming            `json:"timing"`
	ResultFileName string               `json:"resultFileName"`
	MetadataFile   string               `json:"metadataFileName"`
}

// RouteOutcomeKind discriminates a per-row result (spec §3, Route Outcome).
type RouteOutcomeKind string

const (
	OutcomeOK                RouteOutcomeKind = "ok"
	OutcomeInvalidRequest    RouteOutcomeKind = "invalid_request"
	OutcomeNoRoute           RouteOutcomeKind = "no_route"
	OutcomeUnreachable       RouteOutcomeKind = "unreachable"
	OutcomeTimeout           RouteOutcomeKind = "timeout"
	OutcomeCancelled         RouteOutcomeKind = "cancelled"
	OutcomeMalformedResponse RouteOutcomeKind = "malformed_response"
	OutcomeMalformedRow      RouteOutcomeKind = "malformed_row"
	OutcomeOutOfRange        RouteOutcomeKind = "out_of_range"
)

// RouteOutcome is a single row's outcome, returned by GET /api/routing/results/:jobId.
type RouteOutcome struct {
	RowIndex       int64             `json:"rowIndex"`
	OriginalFields map[string]string `json:"originalFields"`
	Kind           RouteOutcomeKind  `json:"kind"`
	DistanceM      float64           `json:"distanceMeters,omitempty"`
	DurationS      float64           `json:"durationSeconds,omitempty"`
	Line           [][2]float64      `json:"line,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// BatchResult is the payload for GET /api/routing/results/:jobId.
type BatchResult struct {
	JobID    string         `json:"jobId"`
	Summary  JobSummary     `json:"summary"`
	Outcomes []RouteOutcome `json:"outcomes"`
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error envelope (spec §7).
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// Envelope wraps every successful JSON response in {success, data}.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// WSClientMessage is a message sent by a WebSocket client.
type WSClientMessage struct {
	Event  string `json:"event"`
	UserID string `json:"userId,omitempty"`
	JobID  string `json:"jobId,omitempty"`
}

// WSServerPayload is the inner payload of a job_update event.
type WSServerPayload struct {
	Status   JobStatus `json:"status,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
}

// WSServerMessage is a message pushed to a WebSocket client.
type WSServerMessage struct {
	Event string          `json:"event"`
	JobID string          `json:"jobId"`
	Data  WSServerPayload `json:"data"`
}
