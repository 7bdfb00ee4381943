package retrain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelops/driftwatch/pkg/alert"
	"github.com/modelops/driftwatch/pkg/registry"
	"github.com/modelops/driftwatch/pkg/summary"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTrainer blocks until release is closed, then returns result/err.
type stubTrainer struct {
	release chan struct{}
	result  Result
	err     error
}

func (s *stubTrainer) Train(ctx context.Context, spec Spec) (Result, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func goodResult() Result {
	return Result{
		Metrics:     map[string]float64{"accuracy": 0.85},
		ArtifactRef: "s3://models/out",
		Baseline: summary.Summary{
			SampleCount: 100,
			Numeric:     map[string]summary.Numeric{"age": {Count: 100, Mean: 40}},
		},
	}
}

func newCoordinator(t *testing.T, trainer Trainer) (*Coordinator, *registry.Registry, *registry.MemoryStore) {
	t.Helper()
	store := registry.NewMemoryStore()
	reg := registry.New(store, nil, testLogger())
	c := NewCoordinator(trainer, reg, store, nil, testLogger())
	return c, reg, store
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingSink) Send(ctx context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) all() []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alert.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// waitFor polls until cond holds. Terminal job records and alerts land
// shortly after the job leaves the running state.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// waitForJob polls until the job leaves the running state.
func waitForJob(t *testing.T, c *Coordinator, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := c.Get(jobID)
		if !ok {
			t.Fatalf("job %s disappeared", jobID)
		}
		if job.State != JobRunning {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s still running after timeout", jobID)
	return Job{}
}

func TestCoordinator_SuccessfulRunStagesVersion(t *testing.T) {
	c, reg, store := newCoordinator(t, &stubTrainer{result: goodResult()})
	defer c.Shutdown()

	job, started := c.Submit(Spec{TrainingDataRef: "s3://data/w1", CodeRef: "git:abc"}, TriggerDrift, "aggregate drift")
	if !started {
		t.Fatal("Submit() started = false, want true")
	}
	if job.Trigger != TriggerDrift {
		t.Errorf("job trigger = %q, want %q", job.Trigger, TriggerDrift)
	}
	if job.Reason != "aggregate drift" {
		t.Errorf("job reason = %q, want %q", job.Reason, "aggregate drift")
	}

	done := waitForJob(t, c, job.ID)
	if done.State != JobSucceeded {
		t.Fatalf("job state = %s (error %q), want %s", done.State, done.Error, JobSucceeded)
	}
	if done.VersionID == "" {
		t.Fatal("succeeded job has no version id")
	}

	v, found, err := reg.Get(context.Background(), done.VersionID)
	if err != nil || !found {
		t.Fatalf("registry.Get(%s) = (found=%v, err=%v)", done.VersionID, found, err)
	}
	if v.State != registry.StateStaged {
		t.Errorf("new version state = %s, want %s", v.State, registry.StateStaged)
	}
	if v.Metrics["accuracy"] != 0.85 {
		t.Errorf("version accuracy = %v, want 0.85", v.Metrics["accuracy"])
	}
	if v.TrainingDataRef != "s3://data/w1" {
		t.Errorf("TrainingDataRef = %q, want s3://data/w1", v.TrainingDataRef)
	}

	// The training baseline is persisted and linked.
	b, found, err := store.GetBaseline(context.Background(), v.BaselineID)
	if err != nil || !found {
		t.Fatalf("GetBaseline(%s) = (found=%v, err=%v)", v.BaselineID, found, err)
	}
	if b.SourceVersion != v.ID {
		t.Errorf("baseline SourceVersion = %s, want %s", b.SourceVersion, v.ID)
	}
}

func TestCoordinator_SubmitWhileRunningReturnsExisting(t *testing.T) {
	trainer := &stubTrainer{release: make(chan struct{}), result: goodResult()}
	c, _, _ := newCoordinator(t, trainer)
	defer c.Shutdown()

	first, started := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	if !started {
		t.Fatal("first Submit() started = false")
	}

	second, started := c.Submit(Spec{TrainingDataRef: "b"}, TriggerDrift, "aggregate drift")
	if started {
		t.Fatal("second Submit() started a new job while one was running")
	}
	if second.ID != first.ID {
		t.Errorf("second Submit() returned job %s, want running job %s", second.ID, first.ID)
	}

	close(trainer.release)
	waitForJob(t, c, first.ID)

	// After completion a new submission starts fresh.
	third, started := c.Submit(Spec{TrainingDataRef: "c"}, TriggerManual, "operator request")
	if !started {
		t.Fatal("Submit() after completion started = false")
	}
	if third.ID == first.ID {
		t.Error("new job reused finished job id")
	}
	waitForJob(t, c, third.ID)
}

func TestCoordinator_ConcurrentSubmitSingleJob(t *testing.T) {
	trainer := &stubTrainer{release: make(chan struct{}), result: goodResult()}
	c, _, _ := newCoordinator(t, trainer)
	defer c.Shutdown()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	newCount := 0
	var mu sync.Mutex

	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, started := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
			mu.Lock()
			ids[i] = job.ID
			if started {
				newCount++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if newCount != 1 {
		t.Errorf("%d submissions started jobs, want exactly 1", newCount)
	}
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("submissions observed different jobs: %s vs %s", ids[0], id)
		}
	}

	close(trainer.release)
	waitForJob(t, c, ids[0])
}

func TestCoordinator_TrainingFailureMarksJobFailed(t *testing.T) {
	c, reg, _ := newCoordinator(t, &stubTrainer{err: context.DeadlineExceeded})
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	done := waitForJob(t, c, job.ID)

	if done.State != JobFailed {
		t.Fatalf("job state = %s, want %s", done.State, JobFailed)
	}
	if done.Error == "" {
		t.Error("failed job has empty error")
	}

	// No version registered.
	versions, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("failed run registered %d versions, want 0", len(versions))
	}

	// Guard released: a new run can start.
	if _, started := c.Submit(Spec{TrainingDataRef: "b"}, TriggerDrift, "aggregate drift"); !started {
		t.Error("Submit() after failure did not start a new job")
	}
}

func TestCoordinator_NonFiniteMetricFailsJob(t *testing.T) {
	result := goodResult()
	result.Metrics["loss"] = math.NaN()
	c, _, _ := newCoordinator(t, &stubTrainer{result: result})
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	done := waitForJob(t, c, job.ID)

	if done.State != JobFailed {
		t.Fatalf("job state = %s, want %s", done.State, JobFailed)
	}
	if !strings.Contains(done.Error, "non-finite") || !strings.Contains(done.Error, "loss") {
		t.Errorf("Error = %q, want non-finite metric mention", done.Error)
	}
}

func TestCoordinator_Cancel(t *testing.T) {
	trainer := &stubTrainer{release: make(chan struct{}), result: goodResult()}
	c, reg, _ := newCoordinator(t, trainer)
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")

	cancelled, err := c.Cancel(job.ID, "operator request")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.State != JobFailed {
		t.Errorf("cancelled state = %s, want %s", cancelled.State, JobFailed)
	}
	if !strings.Contains(cancelled.Error, "cancelled: operator request") {
		t.Errorf("Error = %q, want cancellation reason", cancelled.Error)
	}

	// Guard released immediately, before the trainer goroutine returns.
	if _, started := c.Submit(Spec{TrainingDataRef: "b"}, TriggerManual, "operator request"); !started {
		t.Error("Submit() after cancel did not start a new job")
	}

	// The cancelled trainer's eventual return must not resurrect the job
	// or register a version.
	close(trainer.release)
	c.Shutdown()

	got, _ := c.Get(job.ID)
	if got.State != JobFailed {
		t.Errorf("cancelled job state after trainer return = %s, want %s", got.State, JobFailed)
	}
	versions, _ := reg.List(context.Background())
	for _, v := range versions {
		if v.TrainingDataRef == "a" {
			t.Error("cancelled run registered a version")
		}
	}
}

func TestCoordinator_CancelUnknownJob(t *testing.T) {
	c, _, _ := newCoordinator(t, &stubTrainer{result: goodResult()})
	defer c.Shutdown()

	if _, err := c.Cancel("ghost", "x"); err == nil {
		t.Fatal("Cancel(ghost) expected error")
	}
}

func TestCoordinator_CancelFinishedJob(t *testing.T) {
	c, _, _ := newCoordinator(t, &stubTrainer{result: goodResult()})
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	waitForJob(t, c, job.ID)

	if _, err := c.Cancel(job.ID, "too late"); err == nil {
		t.Fatal("Cancel() on finished job expected error")
	}
}

func TestCoordinator_JobsNewestFirst(t *testing.T) {
	c, _, _ := newCoordinator(t, &stubTrainer{result: goodResult()})
	defer c.Shutdown()

	first, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	waitForJob(t, c, first.ID)
	second, _ := c.Submit(Spec{TrainingDataRef: "b"}, TriggerManual, "operator request")
	waitForJob(t, c, second.ID)

	jobs := c.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("Jobs() returned %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Errorf("Jobs() order = [%s %s], want newest first", jobs[0].ID, jobs[1].ID)
	}
}

func TestCoordinator_LastTriggered(t *testing.T) {
	c, _, _ := newCoordinator(t, &stubTrainer{result: goodResult()})
	defer c.Shutdown()

	if !c.LastTriggered().IsZero() {
		t.Error("LastTriggered() non-zero before any run")
	}

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	if c.LastTriggered().IsZero() {
		t.Error("LastTriggered() zero after submission")
	}
	waitForJob(t, c, job.ID)
}

func TestCoordinator_TrainingFailureAlerts(t *testing.T) {
	sink := &recordingSink{}
	store := registry.NewMemoryStore()
	reg := registry.New(store, nil, testLogger())
	notifier := alert.NewNotifier(testLogger(), sink)
	c := NewCoordinator(&stubTrainer{err: errors.New("gpu quota exhausted")}, reg, store, notifier, testLogger())
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	waitForJob(t, c, job.ID)

	waitFor(t, func() bool { return len(sink.all()) == 1 }, "failed run never reached the alert sink")
	got := sink.all()[0]
	if got.Severity != "high" {
		t.Errorf("alert severity = %q, want high", got.Severity)
	}
	if !strings.Contains(got.Message, job.ID) || !strings.Contains(got.Message, "gpu quota exhausted") {
		t.Errorf("alert message %q should carry the job id and error", got.Message)
	}
}

func TestCoordinator_SuccessNeverAlerts(t *testing.T) {
	sink := &recordingSink{}
	store := registry.NewMemoryStore()
	reg := registry.New(store, nil, testLogger())
	notifier := alert.NewNotifier(testLogger(), sink)
	c := NewCoordinator(&stubTrainer{result: goodResult()}, reg, store, notifier, testLogger())
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerManual, "operator request")
	waitForJob(t, c, job.ID)

	var records []registry.JobRecord
	waitFor(t, func() bool {
		records, _ = store.JobHistory(context.Background(), 10)
		return len(records) == 1
	}, "finished run never reached the store")
	if len(sink.all()) != 0 {
		t.Errorf("successful run raised %d alerts, want 0", len(sink.all()))
	}
}

func TestCoordinator_OutcomePersistedToStore(t *testing.T) {
	c, _, store := newCoordinator(t, &stubTrainer{result: goodResult()})
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "s3://data/w1"}, TriggerDrift, "aggregate drift")
	done := waitForJob(t, c, job.ID)

	var records []registry.JobRecord
	waitFor(t, func() bool {
		records, _ = store.JobHistory(context.Background(), 10)
		return len(records) == 1
	}, "job record never persisted")

	rec := records[0]
	if rec.ID != job.ID {
		t.Errorf("record id = %q, want %q", rec.ID, job.ID)
	}
	if rec.State != string(JobSucceeded) {
		t.Errorf("record state = %q, want %q", rec.State, JobSucceeded)
	}
	if rec.Trigger != string(TriggerDrift) || rec.Reason != "aggregate drift" {
		t.Errorf("record trigger/reason = %q/%q, want drift/aggregate drift", rec.Trigger, rec.Reason)
	}
	if rec.TrainingDataRef != "s3://data/w1" {
		t.Errorf("record data ref = %q, want s3://data/w1", rec.TrainingDataRef)
	}
	if rec.VersionID != done.VersionID {
		t.Errorf("record version = %q, want %q", rec.VersionID, done.VersionID)
	}
	if rec.FinishedAt.IsZero() {
		t.Error("record has zero FinishedAt")
	}
}

func TestCoordinator_CancelPersistsRecord(t *testing.T) {
	trainer := &stubTrainer{release: make(chan struct{}), result: goodResult()}
	c, _, store := newCoordinator(t, trainer)
	defer c.Shutdown()

	job, _ := c.Submit(Spec{TrainingDataRef: "a"}, TriggerDrift, "aggregate drift")
	if _, err := c.Cancel(job.ID, "operator request"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	close(trainer.release)

	// Cancel records the outcome before returning.
	records, err := store.JobHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("JobHistory() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].State != string(JobFailed) {
		t.Errorf("record state = %q, want %q", records[0].State, JobFailed)
	}
	if !strings.Contains(records[0].Error, "cancelled: operator request") {
		t.Errorf("record error = %q, want cancellation reason", records[0].Error)
	}
}
