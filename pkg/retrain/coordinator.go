package retrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelops/driftwatch/pkg/alert"
	"github.com/modelops/driftwatch/pkg/policy"
	"github.com/modelops/driftwatch/pkg/registry"
	"github.com/modelops/driftwatch/pkg/summary"
)

// ErrJobNotFound is returned by Cancel for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// maxJobHistory bounds how many finished jobs the coordinator remembers.
const maxJobHistory = 50

// Coordinator serializes retraining: at most one job runs at a time, and
// submitting while a job is in flight returns that job instead of starting
// another. Successful runs become staged versions in the registry with
// their training baseline persisted alongside.
type Coordinator struct {
	trainer  Trainer
	reg      *registry.Registry
	store    registry.Store
	notifier *alert.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	cancels map[string]context.CancelFunc
	running string
	lastRun time.Time

	wg    sync.WaitGroup
	newID func() string
	now   func() time.Time
}

// NewCoordinator creates a coordinator that registers completed versions
// through reg and persists baselines through store. Failed runs are
// reported through notifier, which may be nil to disable alerting.
func NewCoordinator(trainer Trainer, reg *registry.Registry, store registry.Store, notifier *alert.Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		trainer:  trainer,
		reg:      reg,
		store:    store,
		notifier: notifier,
		logger:   logger,
		jobs:     make(map[string]*Job),
		cancels:  make(map[string]context.CancelFunc),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Submit starts a retraining run, or returns the run already in flight.
// The boolean reports whether a new job was started. The job itself runs on
// a background context so it survives the caller's request lifetime.
func (c *Coordinator) Submit(spec Spec, trigger Trigger, reason string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running != "" {
		existing := *c.jobs[c.running]
		return existing, false
	}

	job := &Job{
		ID:        c.newID(),
		Spec:      spec,
		Trigger:   trigger,
		Reason:    reason,
		State:     JobRunning,
		StartedAt: c.now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.jobs[job.ID] = job
	c.order = append(c.order, job.ID)
	c.cancels[job.ID] = cancel
	c.running = job.ID
	c.lastRun = job.StartedAt
	c.trimHistoryLocked()

	c.logger.Info("retraining started",
		slog.String("job", job.ID),
		slog.String("trigger", string(trigger)),
		slog.String("reason", reason),
		slog.String("data", spec.TrainingDataRef))

	c.wg.Add(1)
	go c.run(ctx, job.ID, spec)

	return *job, true
}

func (c *Coordinator) run(ctx context.Context, jobID string, spec Spec) {
	defer c.wg.Done()

	result, err := c.trainer.Train(ctx, spec)
	if err != nil {
		c.finish(jobID, "", fmt.Errorf("training failed: %w", err))
		return
	}

	if metric, bad := nonFiniteMetric(result.Metrics); bad {
		c.finish(jobID, "", fmt.Errorf("training produced non-finite metric %s", metric))
		return
	}

	versionID := c.newID()
	baseline := summary.Baseline{
		ID:            c.newID(),
		SourceVersion: versionID,
		CreatedAt:     c.now(),
		Summary:       result.Baseline,
	}
	if err := c.store.PutBaseline(ctx, baseline); err != nil {
		c.finish(jobID, "", fmt.Errorf("persisting baseline: %w", err))
		return
	}

	if _, err := c.reg.Register(ctx, registry.Version{
		ID:              versionID,
		TrainingDataRef: spec.TrainingDataRef,
		CodeRef:         spec.CodeRef,
		Metrics:         result.Metrics,
		ArtifactRef:     result.ArtifactRef,
		BaselineID:      baseline.ID,
	}); err != nil {
		c.finish(jobID, "", fmt.Errorf("registering version: %w", err))
		return
	}

	c.finish(jobID, versionID, nil)
}

// finish records a job's terminal state and releases the single-flight
// guard. A job cancelled via Cancel has already reached a terminal state;
// the trainer's late return must not overwrite it.
func (c *Coordinator) finish(jobID, versionID string, runErr error) {
	c.mu.Lock()

	job, ok := c.jobs[jobID]
	if !ok || job.State != JobRunning {
		c.mu.Unlock()
		return
	}

	now := c.now()
	job.FinishedAt = &now
	if runErr != nil {
		job.State = JobFailed
		job.Error = runErr.Error()
	} else {
		job.State = JobSucceeded
		job.VersionID = versionID
	}

	if cancel, ok := c.cancels[jobID]; ok {
		cancel()
		delete(c.cancels, jobID)
	}
	if c.running == jobID {
		c.running = ""
	}
	done := *job
	c.mu.Unlock()

	if runErr != nil {
		c.logger.Error("retraining failed",
			slog.String("job", jobID),
			slog.String("error", runErr.Error()))
	} else {
		c.logger.Info("retraining succeeded",
			slog.String("job", jobID),
			slog.String("version", versionID))
	}
	c.recordOutcome(done)
}

// recordOutcome persists the terminal job record and alerts on failure.
// Runs outside the coordinator lock; both paths are best effort and only
// logged when they fail.
func (c *Coordinator) recordOutcome(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := registry.JobRecord{
		ID:              job.ID,
		Trigger:         string(job.Trigger),
		Reason:          job.Reason,
		State:           string(job.State),
		Error:           job.Error,
		VersionID:       job.VersionID,
		TrainingDataRef: job.Spec.TrainingDataRef,
		StartedAt:       job.StartedAt,
	}
	if job.FinishedAt != nil {
		rec.FinishedAt = *job.FinishedAt
	}
	if err := c.store.AppendJob(ctx, rec); err != nil {
		c.logger.Error("persisting job record failed",
			slog.String("job", job.ID),
			slog.String("error", err.Error()))
	}

	if job.State == JobFailed && c.notifier != nil {
		c.notifier.Notify(ctx, alert.Alert{
			Severity:    string(policy.SeverityHigh),
			Message:     fmt.Sprintf("retraining job %s failed: %s", job.ID, job.Error),
			EvaluatedAt: rec.FinishedAt,
		})
	}
}

// Cancel aborts a running job. The job is marked failed immediately;
// whatever the trainer returns afterwards is discarded.
func (c *Coordinator) Cancel(jobID, reason string) (Job, error) {
	c.mu.Lock()

	job, ok := c.jobs[jobID]
	if !ok {
		c.mu.Unlock()
		return Job{}, fmt.Errorf("cancel %s: %w", jobID, ErrJobNotFound)
	}
	if job.State != JobRunning {
		c.mu.Unlock()
		return Job{}, fmt.Errorf("cancel %s: job already %s", jobID, job.State)
	}

	now := c.now()
	job.State = JobFailed
	job.Error = "cancelled: " + reason
	job.FinishedAt = &now

	if cancel, ok := c.cancels[jobID]; ok {
		cancel()
		delete(c.cancels, jobID)
	}
	if c.running == jobID {
		c.running = ""
	}
	done := *job
	c.mu.Unlock()

	c.logger.Warn("retraining cancelled",
		slog.String("job", jobID),
		slog.String("reason", reason))
	c.recordOutcome(done)
	return done, nil
}

// Jobs returns tracked jobs, newest first.
func (c *Coordinator) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Job, 0, len(c.order))
	for i := len(c.order) - 1; i >= 0; i-- {
		out = append(out, *c.jobs[c.order[i]])
	}
	return out
}

// Get returns one job by id.
func (c *Coordinator) Get(jobID string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// LastTriggered returns when the most recent run started, which feeds the
// decision policy's cooldown. Zero when nothing has run yet.
func (c *Coordinator) LastTriggered() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// Running reports whether a job is currently in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running != ""
}

// Shutdown cancels any in-flight job and waits for its goroutine to exit.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for id, cancel := range c.cancels {
		cancel()
		delete(c.cancels, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// trimHistoryLocked drops the oldest finished jobs beyond the cap.
// Caller must hold c.mu.
func (c *Coordinator) trimHistoryLocked() {
	for len(c.order) > maxJobHistory {
		oldest := c.order[0]
		if c.jobs[oldest].State == JobRunning {
			break
		}
		delete(c.jobs, oldest)
		c.order = c.order[1:]
	}
}

func nonFiniteMetric(metrics map[string]float64) (string, bool) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := metrics[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return name, true
		}
	}
	return "", false
}
