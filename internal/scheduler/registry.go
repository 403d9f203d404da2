package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/types"
)

// JobFunc is invoked on every firing of a scheduled job
type JobFunc func(ctx context.Context)

// ScheduledJob is a live recurring job tracked by the registry
type ScheduledJob struct {
	ID        string       `json:"id"`
	EntryID   cron.EntryID `json:"-"`
	Interval  string       `json:"interval"`
	CreatedAt time.Time    `json:"createdAt"`
}

// cronParser accepts standard 5-field expressions and descriptors such as @every 1h
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateInterval reports whether expr is an accepted schedule expression
func ValidateInterval(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return apperrors.NewInvalidScheduleError(expr, err)
	}
	return nil
}

// JobRegistry keeps at most one live cron entry per job id
type JobRegistry struct {
	cron   *cron.Cron
	logger *logging.Logger

	// base context handed to firings; cancelled on Shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*ScheduledJob
	running bool
}

// NewJobRegistry creates an empty registry. Firings only happen after Start.
func NewJobRegistry(location *time.Location) *JobRegistry {
	if location == nil {
		location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobRegistry{
		cron:   cron.New(cron.WithParser(cronParser), cron.WithLocation(location)),
		logger: logging.GetGlobalLogger().Component("job-registry"),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*ScheduledJob),
	}
}

// Schedule installs fn under id, replacing any live job with the same id.
// An invalid interval returns an error and leaves the previous job in place.
func (r *JobRegistry) Schedule(id, interval string, fn JobFunc) (string, error) {
	if id == "" {
		return "", apperrors.NewInvalidParameterError("jobId", "cannot be empty")
	}
	if fn == nil {
		return "", apperrors.NewInvalidParameterError("job", "cannot be nil")
	}

	schedule, err := cronParser.Parse(interval)
	if err != nil {
		return "", apperrors.NewInvalidScheduleError(interval, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.jobs[id]; ok {
		r.cron.Remove(prev.EntryID)
		delete(r.jobs, id)
		r.logger.WithFields(map[string]interface{}{
			"jobId":    id,
			"interval": prev.Interval,
		}).Info("Replacing existing scheduled job")
	}

	entryID := r.cron.Schedule(schedule, cron.FuncJob(func() {
		r.fire(id, fn)
	}))
	r.jobs[id] = &ScheduledJob{
		ID:        id,
		EntryID:   entryID,
		Interval:  interval,
		CreatedAt: time.Now().UTC(),
	}

	r.logger.WithFields(map[string]interface{}{
		"jobId":    id,
		"interval": interval,
		"next":     schedule.Next(time.Now()).UTC().Format(time.RFC3339),
	}).Info("Scheduled job")

	return id, nil
}

// fire runs one invocation, containing panics so the entry keeps firing
func (r *JobRegistry) fire(id string, fn JobFunc) {
	logger := r.logger.WithField("jobId", id)
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			}).Error("Scheduled job panicked")
		}
	}()

	start := time.Now()
	logger.Debug("Scheduled job firing")
	fn(logging.WithLogger(r.ctx, logger))
	logger.WithField("duration", time.Since(start).String()).Debug("Scheduled job finished")
}

// Stop removes the job with id. In-flight firings run to completion.
func (r *JobRegistry) Stop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		r.logger.WithField("jobId", id).Info("No scheduled job to stop")
		return false
	}

	r.cron.Remove(job.EntryID)
	delete(r.jobs, id)
	r.logger.WithField("jobId", id).Info("Stopped scheduled job")
	return true
}

// ListActive returns a snapshot of live job ids with their status
func (r *JobRegistry) ListActive() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[string]string, len(r.jobs))
	for id := range r.jobs {
		active[id] = string(types.JobStatusActive)
	}
	return active
}

// Jobs returns a copy of the live jobs sorted by id
func (r *JobRegistry) Jobs() []ScheduledJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]ScheduledJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Len returns the number of live jobs
func (r *JobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Start begins firing jobs. Calling Start twice is a no-op.
func (r *JobRegistry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("Job registry started")
}

// Running reports whether the registry is firing jobs
func (r *JobRegistry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Shutdown stops future firings and waits for in-flight ones until ctx is done,
// then cancels the context handed to firings
func (r *JobRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	r.mu.Unlock()

	defer r.cancel()
	if !wasRunning {
		return nil
	}

	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("Job registry stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Job registry shutdown timed out with jobs still running")
		return ctx.Err()
	}
}
