// Package registry implements C7: the in-memory job registry. Deliberately
// not a global — the registry is constructed once by cmd/server and
// threaded through the HTTP boundary and dispatcher as an explicit
// dependency (spec §9 design note: no package-level mutable state).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"batchroute/internal/apperr"
	"batchroute/pkg/api"
)

// Runner drives one job to a terminal state. The dispatcher implements
// this; the registry only knows how to schedule it.
type Runner interface {
	Run(ctx context.Context, jobID string, cfg api.RoutingConfiguration, total int64) (api.JobSummary, string, string, error)
}

// AuditSink mirrors job lifecycle transitions into durable storage. The
// registry calls it best-effort: a failed audit write never fails the
// job itself, it only gets logged (spec §9, optional Postgres mirror).
type AuditSink interface {
	RecordStart(ctx context.Context, jobID string, cfg api.RoutingConfiguration, total int64, startedAt time.Time) error
	RecordTerminal(ctx context.Context, jobID string, status api.JobStatus, summary api.JobSummary, errMsg string, completedAt time.Time) error
}

// Registry is the in-memory map of job id -> job record, plus the
// background housekeeping loop that caps retained records.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*job
	// order preserves insertion order so eviction can walk terminal jobs
	// oldest-first without re-sorting on every housekeeping tick.
	order []string

	runner      Runner
	audit       AuditSink
	maxJobsKept int

	logger *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Registry. runner is invoked asynchronously for every
// Create call; it may be nil at construction time and supplied later via
// SetRunner, since the dispatcher that implements Runner typically takes
// the Registry itself as its ProgressSink. maxJobsKept bounds the number
// of retained terminal job records (MAX_JOBS_KEPT, default 100).
func New(runner Runner, maxJobsKept int) *Registry {
	if maxJobsKept <= 0 {
		maxJobsKept = 100
	}
	return &Registry{
		jobs:        make(map[string]*job),
		runner:      runner,
		maxJobsKept: maxJobsKept,
		stop:        make(chan struct{}),
	}
}

// SetRunner supplies the Runner when it could not be constructed before
// the Registry (the usual case: the dispatcher's constructor takes the
// Registry as its ProgressSink). Must be called before the first Create.
func (r *Registry) SetRunner(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runner = runner
}

// SetAuditSink attaches the optional durable audit mirror. Nil (the
// default) disables audit persistence entirely.
func (r *Registry) SetAuditSink(sink AuditSink, logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = sink
	r.logger = logger
}

// StartHousekeeping launches the background eviction loop, ticking every
// interval until Shutdown is called.
func (r *Registry) StartHousekeeping(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.evictOldestTerminal()
			}
		}
	}()
}

// Shutdown stops the housekeeping loop and cancels every non-terminal
// job's context, so graceful process shutdown cancels every in-flight
// dispatcher (spec §5, Timeouts).
func (r *Registry) Shutdown() {
	close(r.stop)

	r.mu.RLock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	for _, j := range jobs {
		j.requestCancel()
	}

	r.wg.Wait()
}

// Create allocates a job record under the caller-supplied identifier and
// schedules the runner; the configuration is stored as given, without
// validation. It returns the identifier before the runner completes
// (spec §4.7).
func (r *Registry) Create(id string, cfg api.RoutingConfiguration, total int64) (string, error) {
	j := newJob(id, cfg, total)

	r.mu.Lock()
	r.jobs[id] = j
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runJob(j)
	}()

	return id, nil
}

func (r *Registry) runJob(j *job) {
	r.mu.RLock()
	audit, logger := r.audit, r.logger
	r.mu.RUnlock()

	startedAt := time.Now()
	if audit != nil {
		if err := audit.RecordStart(j.ctx, j.id, j.configuration, j.progress.Total, startedAt); err != nil && logger != nil {
			logger.Warn("audit record start failed", "job_id", j.id, "error", err)
		}
	}

	summary, resultPath, metadataPath, err := r.runner.Run(j.ctx, j.id, j.configuration, j.progress.Total)

	status := api.JobCompleted
	errMsg := ""
	if err != nil {
		status = api.JobFailed
		errMsg = err.Error()
	}
	j.markTerminal(status, errMsg, resultPath, metadataPath)

	if audit != nil {
		if auditErr := audit.RecordTerminal(context.Background(), j.id, status, summary, errMsg, time.Now()); auditErr != nil && logger != nil {
			logger.Warn("audit record terminal failed", "job_id", j.id, "error", auditErr)
		}
	}
}

// Get returns the current snapshot of jobID, or a not-found error.
func (r *Registry) Get(jobID string) (api.JobSnapshot, error) {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return api.JobSnapshot{}, apperr.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	return j.snapshot(), nil
}

// Cancel sets jobID's cancellation signal iff non-terminal. Returns true
// iff the signal was freshly set by this call (idempotent otherwise).
func (r *Registry) Cancel(jobID string) (bool, error) {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return false, apperr.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	return j.requestCancel(), nil
}

// Cleanup deletes the result and metadata files for a terminal job and
// purges the record from memory. It never deletes the original upload
// (owned by the upload housekeeper).
func (r *Registry) Cleanup(jobID string) (bool, error) {
	r.mu.Lock()
	j, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return false, apperr.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	if !j.isTerminal() {
		r.mu.Unlock()
		return false, apperr.Precondition("job not completed yet")
	}
	delete(r.jobs, jobID)
	r.removeFromOrderLocked(jobID)
	r.mu.Unlock()

	j.mu.Lock()
	resultPath, metadataPath := j.resultPath, j.metadataPath
	j.mu.Unlock()

	if resultPath != "" {
		os.Remove(resultPath)
	}
	if metadataPath != "" {
		os.Remove(metadataPath)
	}
	return true, nil
}

// ResultPath returns a completed job's configured result-file path (any
// other status is a precondition error) without checking whether the file still exists on disk. Callers that
// need to tolerate the file having been removed out-of-band (spec §7's
// export fallback) use this instead of ListResults.
func (r *Registry) ResultPath(jobID string) (string, error) {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return "", apperr.NotFound(fmt.Sprintf("job %s not found", jobID))
	}

	j.mu.Lock()
	status := j.status
	resultPath := j.resultPath
	j.mu.Unlock()

	if status != api.JobCompleted {
		return "", apperr.Precondition("job not completed yet")
	}
	return resultPath, nil
}

// ListResults returns the terminal job's result file path and size, for
// the default (file-present) export/streaming path.
func (r *Registry) ListResults(jobID string) (string, int64, error) {
	resultPath, err := r.ResultPath(jobID)
	if err != nil {
		return "", 0, err
	}

	info, err := os.Stat(resultPath)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.KindNotFound, "result file missing", err)
	}
	return resultPath, info.Size(), nil
}

func (r *Registry) evictOldestTerminal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.order) > r.maxJobsKept {
		oldest := r.order[0]
		j, ok := r.jobs[oldest]
		if !ok {
			r.order = r.order[1:]
			continue
		}
		if !j.isTerminal() {
			// Oldest non-terminal job blocks further eviction; try the
			// next slot up instead of evicting a running job.
			evictedAny := false
			for i := 1; i < len(r.order); i++ {
				cand := r.jobs[r.order[i]]
				if cand != nil && cand.isTerminal() {
					id := r.order[i]
					delete(r.jobs, id)
					r.order = append(r.order[:i], r.order[i+1:]...)
					evictedAny = true
					break
				}
			}
			if !evictedAny {
				return
			}
			continue
		}
		delete(r.jobs, oldest)
		r.order = r.order[1:]
	}
}

func (r *Registry) removeFromOrderLocked(jobID string) {
	for i, id := range r.order {
		if id == jobID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// AddRowOutcome advances jobID's counters by one row's outcome and
// returns the updated progress, plus false if the job is unknown. The
// registry itself holds no broadcaster reference, so progress delivery
// stays a C8 concern (spec §4.6e).
func (r *Registry) AddRowOutcome(jobID string, successful bool) (api.Progress, bool) {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return api.Progress{}, false
	}
	return j.addProgress(successful), true
}

// CancelSignal returns the cancellation context for jobID, used by the
// dispatcher to watch for cancellation between rows and K-windows.
func (r *Registry) CancelSignal(jobID string) (context.Context, bool) {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return j.ctx, true
}

// MarkProcessing transitions jobID from pending to processing.
func (r *Registry) MarkProcessing(jobID string) {
	r.mu.RLock()
	j, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if ok {
		j.markProcessing()
	}
}
