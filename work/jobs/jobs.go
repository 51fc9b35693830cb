// Package jobs tracks background conversion work. Every accepted job
// gets an id the caller can poll; state lives in memory for fast
// lookups and is mirrored to SQLite for history across restarts.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"vodgate/work/database"
	"vodgate/work/logger"
)

// Job states. A job moves queued -> running -> done|error and never
// leaves a terminal state.
const (
	StateQueued  = "queued"
	StateRunning = "running"
	StateDone    = "done"
	StateError   = "error"
)

// Job is the externally visible state of one background task.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	HostID      string     `json:"hostId"`
	SourcePath  string     `json:"sourcePath"`
	TargetPath  string     `json:"targetPath"`
	State       string     `json:"state"`
	Error       string     `json:"error,omitempty"`
	SubmittedBy string     `json:"submittedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// entry is the mutable in-memory record behind a Job snapshot.
type entry struct {
	mu  sync.Mutex
	job Job
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Tracker owns the worker pool and the job registry. The database is
// optional; when nil, history simply does not survive restarts.
type Tracker struct {
	pool *ants.Pool
	jobs *xsync.MapOf[string, *entry]
	db   *database.DB
}

// NewTracker creates a Tracker with the given worker pool size.
func NewTracker(workers int, db *database.DB) (*Tracker, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Tracker{
		pool: pool,
		jobs: xsync.NewMapOf[string, *entry](),
		db:   db,
	}, nil
}

// Submit queues fn for execution and returns the new job's snapshot.
// fn runs on the worker pool with a background context; the submitting
// request does not hold the job's lifetime.
func (t *Tracker) Submit(kind, hostID, src, target, submittedBy string, fn func(ctx context.Context) error) (Job, error) {
	e := &entry{job: Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		HostID:      hostID,
		SourcePath:  src,
		TargetPath:  target,
		State:       StateQueued,
		SubmittedBy: submittedBy,
		CreatedAt:   time.Now().UTC(),
	}}
	t.jobs.Store(e.job.ID, e)

	if t.db != nil {
		if err := t.db.InsertJob(&database.JobRow{
			ID:          e.job.ID,
			HostID:      hostID,
			SourcePath:  src,
			TargetPath:  target,
			Kind:        kind,
			SubmittedBy: submittedBy,
		}); err != nil {
			logger.Warn("{jobs/jobs - Submit} Failed to persist job %s: %v", e.job.ID, err)
		}
	}

	err := t.pool.Submit(func() {
		t.markRunning(e)
		runErr := fn(context.Background())
		t.finish(e, runErr)
	})
	if err != nil {
		t.finish(e, fmt.Errorf("worker pool rejected job: %w", err))
		return e.snapshot(), err
	}

	logger.Debug("{jobs/jobs - Submit} Queued %s job %s for host %s", kind, e.job.ID, hostID)
	return e.snapshot(), nil
}

// Get returns the snapshot of a job, consulting memory first and then
// the persisted history.
func (t *Tracker) Get(id string) (Job, bool) {
	if e, ok := t.jobs.Load(id); ok {
		return e.snapshot(), true
	}

	if t.db != nil {
		row, err := t.db.GetJob(id)
		if err != nil {
			logger.Warn("{jobs/jobs - Get} Failed to load job %s from history: %v", id, err)
			return Job{}, false
		}
		if row != nil {
			return jobFromRow(row), true
		}
	}
	return Job{}, false
}

// Stats returns queue occupancy and per-state job counts for the
// stats endpoint.
func (t *Tracker) Stats() map[string]interface{} {
	counts := map[string]int{}
	t.jobs.Range(func(_ string, e *entry) bool {
		counts[e.snapshot().State]++
		return true
	})
	return map[string]interface{}{
		"workers_running": t.pool.Running(),
		"workers_free":    t.pool.Free(),
		"jobs_by_state":   counts,
	}
}

// Close drains the worker pool. In-flight jobs finish; queued jobs
// are abandoned.
func (t *Tracker) Close() {
	t.pool.Release()
}

func (t *Tracker) markRunning(e *entry) {
	now := time.Now().UTC()
	e.mu.Lock()
	e.job.State = StateRunning
	e.job.StartedAt = &now
	e.mu.Unlock()

	if t.db != nil {
		if err := t.db.MarkJobRunning(e.job.ID); err != nil {
			logger.Warn("{jobs/jobs - markRunning} Failed to persist job %s: %v", e.job.ID, err)
		}
	}
}

func (t *Tracker) finish(e *entry, runErr error) {
	now := time.Now().UTC()
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}

	e.mu.Lock()
	e.job.FinishedAt = &now
	if runErr != nil {
		e.job.State = StateError
		e.job.Error = errMsg
	} else {
		e.job.State = StateDone
	}
	id := e.job.ID
	e.mu.Unlock()

	if t.db != nil {
		if err := t.db.FinishJob(id, errMsg); err != nil {
			logger.Warn("{jobs/jobs - finish} Failed to persist job %s: %v", id, err)
		}
	}

	if runErr != nil {
		logger.Warn("{jobs/jobs - finish} Job %s failed: %v", id, runErr)
	} else {
		logger.Debug("{jobs/jobs - finish} Job %s completed", id)
	}
}

func jobFromRow(row *database.JobRow) Job {
	j := Job{
		ID:          row.ID,
		Kind:        row.Kind,
		HostID:      row.HostID,
		SourcePath:  row.SourcePath,
		TargetPath:  row.TargetPath,
		State:       row.State,
		Error:       row.Error,
		SubmittedBy: row.SubmittedBy,
		CreatedAt:   row.CreatedAt,
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		j.StartedAt = &t
	}
	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time
		j.FinishedAt = &t
	}
	return j
}
