package registry

import (
	"context"
	"sync"
	"time"

	"batchroute/pkg/api"
)

// job is the internal, mutable record backing one api.JobSnapshot. All
// mutations go through short critical sections on the owning mu, never
// held across a suspension point (spec §5).
type job struct {
	mu sync.Mutex

	id            string
	status        api.JobStatus
	progress      api.Progress
	startedAt     *time.Time
	completedAt   *time.Time
	configuration api.RoutingConfiguration
	errMsg        string

	resultPath   string
	metadataPath string

	cancel context.CancelFunc
	ctx    context.Context

	createdAt time.Time
}

func newJob(id string, cfg api.RoutingConfiguration, total int64) *job {
	ctx, cancel := context.WithCancel(context.Background())
	return &job{
		id:            id,
		status:        api.JobPending,
		progress:      api.Progress{Total: total},
		configuration: cfg,
		cancel:        cancel,
		ctx:           ctx,
		createdAt:     time.Now().UTC(),
	}
}

func (j *job) snapshot() api.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	return api.JobSnapshot{
		ID:            j.id,
		Status:        j.status,
		Progress:      j.progress,
		StartedAt:     j.startedAt,
		CompletedAt:   j.completedAt,
		Configuration: j.configuration,
		Error:         j.errMsg,
	}
}

func (j *job) isTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status == api.JobCompleted || j.status == api.JobFailed
}

// markProcessing transitions pending -> processing. No-op if already past
// pending (only forward transitions are permitted, spec §4.6).
func (j *job) markProcessing() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != api.JobPending {
		return
	}
	j.status = api.JobProcessing
	now := time.Now().UTC()
	j.startedAt = &now
}

// markTerminal transitions the job to completed or failed. No-op if
// already terminal.
func (j *job) markTerminal(status api.JobStatus, errMsg, resultPath, metadataPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == api.JobCompleted || j.status == api.JobFailed {
		return
	}
	j.status = status
	j.errMsg = errMsg
	j.resultPath = resultPath
	j.metadataPath = metadataPath
	now := time.Now().UTC()
	j.completedAt = &now
}

// addProgress atomically advances the job's counters by one row's
// outcome: one increment of Processed, and exactly one of Successful or
// Failed (spec §8 invariant 2).
func (j *job) addProgress(successful bool) api.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress.Processed++
	if successful {
		j.progress.Successful++
	} else {
		j.progress.Failed++
	}
	return j.progress
}

// requestCancel sets the job's cancellation signal iff non-terminal.
// Returns true iff the signal was freshly set by this call.
func (j *job) requestCancel() bool {
	j.mu.Lock()
	terminal := j.status == api.JobCompleted || j.status == api.JobFailed
	j.mu.Unlock()

	if terminal {
		return false
	}

	select {
	case <-j.ctx.Done():
		return false
	default:
		j.cancel()
		return true
	}
}
