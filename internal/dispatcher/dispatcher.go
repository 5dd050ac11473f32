// Package dispatcher implements C6, the batch dispatcher: the core
// concurrency engine that drives every row of a job to a terminal outcome.
// It is grounded on the teacher's worker.Agent pull-loop — semaphore-bounded
// fan-out, WaitGroup fan-in — generalised from "N executions dequeued from
// a queue" to "B-window of rows, each spawning a K-window of routing calls".
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"batchroute/internal/broadcaster"
	"batchroute/internal/geometry"
	"batchroute/internal/observability"
	"batchroute/internal/projcatalog"
	"batchroute/internal/projection"
	"batchroute/internal/resultwriter"
	"batchroute/internal/routing"
	"batchroute/internal/rowiter"
	"batchroute/pkg/api"
)

// UploadResolver locates the on-disk file and decoding options for a
// FileID produced by the upload endpoint.
type UploadResolver interface {
	Resolve(fileID string) (path string, rowCount int64, opts rowiter.Options, err error)
}

// ProgressSink is the subset of the registry the dispatcher needs to
// advance a job's counters and watch for cancellation, without depending
// on the whole registry package's public surface.
type ProgressSink interface {
	AddRowOutcome(jobID string, successful bool) (api.Progress, bool)
	CancelSignal(jobID string) (context.Context, bool)
	MarkProcessing(jobID string)
}

// Dispatcher runs one job at a time per call to Run; the registry invokes
// Run in its own goroutine per job, so many Dispatcher.Run calls execute
// concurrently across jobs (spec §5: parallel scheduling model).
type Dispatcher struct {
	uploads    UploadResolver
	catalog    *projcatalog.Catalog
	transforms *projection.Registry
	routingCli *routing.Client
	progress   ProgressSink
	broadcast  *broadcaster.Broadcaster
	resultsDir string

	batchSize     int
	maxConcurrent int

	metrics *observability.EngineMetrics
	logger  *slog.Logger
}

// Config bundles the tunables BATCH_SIZE and OSRM_MAX_CONCURRENT.
type Config struct {
	BatchSize     int
	MaxConcurrent int
	ResultsDir    string
}

// New constructs a Dispatcher. metrics may be nil if metrics are disabled.
func New(
	uploads UploadResolver,
	catalog *projcatalog.Catalog,
	routingCli *routing.Client,
	progress ProgressSink,
	broadcast *broadcaster.Broadcaster,
	metrics *observability.EngineMetrics,
	logger *slog.Logger,
	cfg Config,
) *Dispatcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}

	return &Dispatcher{
		uploads:       uploads,
		catalog:       catalog,
		transforms:    projection.NewRegistry(),
		routingCli:    routingCli,
		progress:      progress,
		broadcast:     broadcast,
		resultsDir:    cfg.ResultsDir,
		batchSize:     batchSize,
		maxConcurrent: maxConcurrent,
		metrics:       metrics,
		logger:        logger,
	}
}

// decodedRow is a row that has cleared field parsing and projection, ready
// for a routing request; or carries a pre-computed failure outcome when
// it could not clear one of those steps without calling C1.
type decodedRow struct {
	rowIndex       int64
	originalFields map[string]string

	req     routing.Request
	hasReq  bool
	outcome *api.RouteOutcome // pre-computed failure, when hasReq is false
}

// Run drives jobID through its full lifecycle: open the iterator and
// sink, consume B-windows, fan out K-windows of routing requests, write
// features, advance counters, and publish progress, until the iterator
// is exhausted or cancellation is observed (spec §4.6).
func (d *Dispatcher) Run(ctx context.Context, jobID string, cfg api.RoutingConfiguration, total int64) (api.JobSummary, string, string, error) {
	startedAt := time.Now().UTC()
	d.progress.MarkProcessing(jobID)

	jobCtx, ok := d.progress.CancelSignal(jobID)
	if ok {
		ctx = jobCtx
	}

	ref, err := d.catalog.Get(cfg.ReferenceCode)
	if err != nil {
		return api.JobSummary{}, "", "", fmt.Errorf("unknown reference %s: %w", cfg.ReferenceCode, err)
	}

	path, rowCount, opts, err := d.uploads.Resolve(cfg.FileID)
	if err != nil {
		return api.JobSummary{}, "", "", fmt.Errorf("resolve upload %s: %w", cfg.FileID, err)
	}

	it, err := rowiter.Open(path, rowCount, opts)
	if err != nil {
		return api.JobSummary{}, "", "", fmt.Errorf("open row iterator: %w", err)
	}
	defer it.Close()

	sink, err := resultwriter.Open(d.resultsDir, jobID)
	if err != nil {
		return api.JobSummary{}, "", "", fmt.Errorf("open result sink: %w", err)
	}

	summary, err := d.drive(ctx, jobID, cfg, ref, it, sink, total)
	if err != nil {
		sink.Abort()
		d.publishTerminal(jobID, api.JobFailed, summary, err.Error())
		return api.JobSummary{}, "", "", err
	}

	timing := api.JobTiming{
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
	timing.DurationMs = timing.CompletedAt.Sub(timing.StartedAt).Milliseconds()

	if closeErr := sink.Close(summary, timing, cfg); closeErr != nil {
		d.publishTerminal(jobID, api.JobFailed, summary, closeErr.Error())
		return api.JobSummary{}, "", "", closeErr
	}

	d.publishTerminal(jobID, api.JobCompleted, summary, "")
	return summary, sink.ResultPath(), sink.MetadataPath(), nil
}

// drive consumes the iterator in B-windows until exhaustion or
// cancellation, returning the accumulated job summary.
func (d *Dispatcher) drive(
	ctx context.Context,
	jobID string,
	cfg api.RoutingConfiguration,
	ref api.ReferenceDescriptor,
	it *rowiter.Iterator,
	sink *resultwriter.Writer,
	total int64,
) (api.JobSummary, error) {
	summary := api.JobSummary{Total: total}

	for {
		if ctx.Err() != nil {
			return summary, fmt.Errorf("cancelled by user")
		}

		window := d.nextWindow(it)
		if len(window) == 0 {
			break
		}

		rows := d.decodeWindow(window, cfg, ref)

		progress, err := d.resolveWindow(ctx, jobID, rows, cfg.Geometry, sink, &summary)
		if err != nil {
			return summary, err
		}

		d.publishProgress(jobID, progress)
	}

	return summary, nil
}

// nextWindow pulls up to d.batchSize rows from the iterator (the
// B-window), bounding how many rows are parsed concurrently in memory
// (spec §4.6 windowing rationale).
func (d *Dispatcher) nextWindow(it *rowiter.Iterator) []rowiter.Row {
	window := make([]rowiter.Row, 0, d.batchSize)
	for len(window) < d.batchSize {
		row, ok := it.Next()
		if !ok {
			break
		}
		window = append(window, row)
	}
	return window
}

// decodeWindow parses coordinate fields and applies the projection
// transform for every row in a B-window. Rows that fail either step are
// immediately turned into failure outcomes without ever reaching C1.
func (d *Dispatcher) decodeWindow(window []rowiter.Row, cfg api.RoutingConfiguration, ref api.ReferenceDescriptor) []decodedRow {
	out := make([]decodedRow, len(window))

	for i, row := range window {
		if row.Malformed {
			out[i] = decodedRow{
				rowIndex: row.Index,
				outcome: &api.RouteOutcome{
					RowIndex: row.Index,
					Kind:     api.OutcomeMalformedRow,
					Error:    row.Err.Error(),
				},
			}
			continue
		}

		oLon, oLat, dLon, dLat, err := parseCoordinates(row.Fields, cfg)
		if err != nil {
			out[i] = decodedRow{
				rowIndex:       row.Index,
				originalFields: row.Fields,
				outcome: &api.RouteOutcome{
					RowIndex:       row.Index,
					OriginalFields: row.Fields,
					Kind:           api.OutcomeMalformedRow,
					Error:          err.Error(),
				},
			}
			continue
		}

		tOLon, tOLat, err := d.transforms.ToWGS84(ref, oLon, oLat)
		if err == nil {
			var tDLon, tDLat float64
			tDLon, tDLat, err = d.transforms.ToWGS84(ref, dLon, dLat)
			if err == nil {
				out[i] = decodedRow{
					rowIndex:       row.Index,
					originalFields: row.Fields,
					hasReq:         true,
					req: routing.Request{
						OriginLon: tOLon, OriginLat: tOLat,
						DestLon: tDLon, DestLat: tDLat,
					},
				}
				continue
			}
		}

		out[i] = decodedRow{
			rowIndex:       row.Index,
			originalFields: row.Fields,
			outcome: &api.RouteOutcome{
				RowIndex:       row.Index,
				OriginalFields: row.Fields,
				Kind:           api.OutcomeOutOfRange,
				Error:          err.Error(),
			},
		}
	}

	return out
}

func parseCoordinates(fields map[string]string, cfg api.RoutingConfiguration) (oLon, oLat, dLon, dLat float64, err error) {
	oLon, err = parseFloatField(fields, cfg.OriginFields.X)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	oLat, err = parseFloatField(fields, cfg.OriginFields.Y)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	dLon, err = parseFloatField(fields, cfg.DestinationFields.X)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	dLat, err = parseFloatField(fields, cfg.DestinationFields.Y)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return oLon, oLat, dLon, dLat, nil
}

func parseFloatField(fields map[string]string, name string) (float64, error) {
	v, ok := fields[name]
	if !ok || v == "" {
		return 0, fmt.Errorf("missing value for field %q", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q is not numeric: %q", name, v)
	}
	return f, nil
}

// resolveWindow submits every decoded row with a pending routing request
// as one K-window (fan-out via CalculateBatch, fan-in on its return),
// re-joins them with the rows that already failed during decode, writes
// successful features, and advances the job's counters in iterator
// order (spec §5 ordering guarantees).
func (d *Dispatcher) resolveWindow(
	ctx context.Context,
	jobID string,
	rows []decodedRow,
	policy api.GeometryPolicy,
	sink *resultwriter.Writer,
	summary *api.JobSummary,
) (api.Progress, error) {
	var indices []int
	var reqs []routing.Request
	for i, r := range rows {
		if r.hasReq {
			indices = append(indices, i)
			reqs = append(reqs, r.req)
		}
	}

	outcomes := make([]routing.Outcome, len(reqs))
	if len(reqs) > 0 {
		outcomes = d.submitKWindows(ctx, reqs)
	}

	for n, i := range indices {
		rows[i].outcomeFromRouting(outcomes[n])
	}

	var progress api.Progress
	for _, r := range rows {
		successful := r.outcome != nil && r.outcome.Kind == api.OutcomeOK
		p, ok := d.progress.AddRowOutcome(jobID, successful)
		if !ok {
			return progress, fmt.Errorf("job %s no longer registered", jobID)
		}
		progress = p

		if successful {
			summary.Successful++
			summary.TotalDistanceM += r.outcome.DistanceM
			summary.TotalDurationS += r.outcome.DurationS
			d.countRow(ctx, true)

			line := geometry.Transform(toGeometryLine(r.outcome.Line), policy)
			feature := resultwriter.BuildFeature(r.rowIndex, r.originalFields, r.outcome.DistanceM, r.outcome.DurationS, fromGeometryLine(line))
			if err := sink.WriteFeature(feature); err != nil {
				return progress, fmt.Errorf("write feature for row %d: %w", r.rowIndex, err)
			}
		} else {
			summary.Failed++
			d.countRow(ctx, false)
			if r.outcome != nil {
				sink.WriteFailedRow(resultwriter.FailedRow{
					RowIndex:       r.rowIndex,
					OriginalFields: r.originalFields,
					Kind:           r.outcome.Kind,
					Error:          r.outcome.Error,
				})
			}
		}
	}

	return progress, nil
}

// countRow records the per-row metric counters when metrics are enabled.
func (d *Dispatcher) countRow(ctx context.Context, successful bool) {
	if d.metrics == nil {
		return
	}
	if successful {
		d.metrics.RowsProcessed.Add(ctx, 1)
	} else {
		d.metrics.RowsFailed.Add(ctx, 1)
	}
}

// submitKWindows splits reqs into K-windows of at most maxConcurrent
// requests and drives each through the routing client's batch helper in
// turn; within a K-window all requests fire concurrently (spec §4.6c).
func (d *Dispatcher) submitKWindows(ctx context.Context, reqs []routing.Request) []routing.Outcome {
	out := make([]routing.Outcome, 0, len(reqs))

	for start := 0; start < len(reqs); start += d.maxConcurrent {
		end := start + d.maxConcurrent
		if end > len(reqs) {
			end = len(reqs)
		}

		if ctx.Err() != nil {
			for range reqs[start:end] {
				out = append(out, routing.Outcome{Kind: routing.KindCancelled, Err: ctx.Err()})
			}
			continue
		}

		windowStart := time.Now()
		batch := d.routingCli.CalculateBatch(ctx, reqs[start:end])
		if d.metrics != nil && len(batch) > 0 {
			perRequest := float64(time.Since(windowStart).Milliseconds()) / float64(len(batch))
			d.metrics.RequestLatency.Record(ctx, perRequest)
		}
		out = append(out, batch...)
	}

	return out
}

func (r *decodedRow) outcomeFromRouting(o routing.Outcome) {
	if o.Kind == routing.KindOK {
		r.outcome = &api.RouteOutcome{
			RowIndex:       r.rowIndex,
			OriginalFields: r.originalFields,
			Kind:           api.OutcomeOK,
			DistanceM:      o.DistanceM,
			DurationS:      o.DurationS,
			Line:           o.Line,
		}
		return
	}

	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}
	r.outcome = &api.RouteOutcome{
		RowIndex:       r.rowIndex,
		OriginalFields: r.originalFields,
		Kind:           toOutcomeKind(o.Kind),
		Error:          msg,
	}
}

func toOutcomeKind(k routing.Kind) api.RouteOutcomeKind {
	switch k {
	case routing.KindOK:
		return api.OutcomeOK
	case routing.KindInvalidRequest:
		return api.OutcomeInvalidRequest
	case routing.KindNoRoute:
		return api.OutcomeNoRoute
	case routing.KindUnreachable:
		return api.OutcomeUnreachable
	case routing.KindTimeout:
		return api.OutcomeTimeout
	case routing.KindCancelled:
		return api.OutcomeCancelled
	case routing.KindMalformedResponse:
		return api.OutcomeMalformedResponse
	default:
		return api.OutcomeMalformedResponse
	}
}

func toGeometryLine(line [][2]float64) []geometry.Point {
	out := make([]geometry.Point, len(line))
	for i, p := range line {
		out[i] = geometry.Point(p)
	}
	return out
}

func fromGeometryLine(line []geometry.Point) [][2]float64 {
	out := make([][2]float64, len(line))
	for i, p := range line {
		out[i] = [2]float64(p)
	}
	return out
}

func (d *Dispatcher) publishProgress(jobID string, progress api.Progress) {
	if d.broadcast == nil {
		return
	}
	d.broadcast.Publish(jobID, api.WSServerMessage{
		Event: "job_update",
		JobID: jobID,
		Data: api.WSServerPayload{
			Status:   api.JobProcessing,
			Progress: &progress,
		},
	})
}

func (d *Dispatcher) publishTerminal(jobID string, status api.JobStatus, summary api.JobSummary, errMsg string) {
	if d.broadcast == nil {
		return
	}
	progress := api.Progress{
		Total:      summary.Total,
		Processed:  summary.Successful + summary.Failed,
		Successful: summary.Successful,
		Failed:     summary.Failed,
	}
	d.broadcast.Publish(jobID, api.WSServerMessage{
		Event: "job_update",
		JobID: jobID,
		Data: api.WSServerPayload{
			Status:   status,
			Progress: &progress,
		},
	})
	if d.logger != nil && errMsg != "" {
		d.logger.Error("job terminated with error", "job_id", jobID, "error", errMsg)
	}
}
