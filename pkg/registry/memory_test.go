package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/modelops/driftwatch/pkg/drift"
	"github.com/modelops/driftwatch/pkg/summary"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}
	if store.Len() != 0 {
		t.Errorf("New store should be empty, got %d versions", store.Len())
	}
}

func TestMemoryStore_PutGetVersion(t *testing.T) {
	tests := []struct {
		name    string
		version Version
		wantErr bool
	}{
		{
			name: "valid staged version",
			version: Version{
				ID:              "v-1",
				State:           StateStaged,
				TrainingDataRef: "s3://data/window-42",
				CodeRef:         "git:abc123",
				Metrics:         map[string]float64{"accuracy": 0.82},
				ArtifactRef:     "s3://models/v-1",
				BaselineID:      "b-1",
				CreatedAt:       time.Now(),
			},
			wantErr: false,
		},
		{
			name:    "empty id",
			version: Version{State: StateStaged},
			wantErr: true,
		},
		{
			name:    "invalid state",
			version: Version{ID: "v-2", State: State("shipped")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()

			err := store.PutVersion(context.Background(), tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("PutVersion() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			got, found, err := store.GetVersion(context.Background(), tt.version.ID)
			if err != nil {
				t.Fatalf("GetVersion() error = %v", err)
			}
			if !found {
				t.Fatal("GetVersion() found = false, want true")
			}
			if got.ID != tt.version.ID {
				t.Errorf("ID = %q, want %q", got.ID, tt.version.ID)
			}
			if got.State != tt.version.State {
				t.Errorf("State = %q, want %q", got.State, tt.version.State)
			}
			if got.TrainingDataRef != tt.version.TrainingDataRef {
				t.Errorf("TrainingDataRef = %q, want %q", got.TrainingDataRef, tt.version.TrainingDataRef)
			}
		})
	}
}

func TestMemoryStore_GetVersion_NotFound(t *testing.T) {
	store := NewMemoryStore()

	v, found, err := store.GetVersion(context.Background(), "nonexistent")
	if err != nil {
		t.Errorf("GetVersion() unexpected error = %v", err)
	}
	if found {
		t.Error("GetVersion() found = true for nonexistent version, want false")
	}
	if v.ID != "" {
		t.Error("GetVersion() returned non-zero version for nonexistent id")
	}
}

func TestMemoryStore_GetVersion_ReturnsCopy(t *testing.T) {
	store := NewMemoryStore()

	if err := store.PutVersion(context.Background(), Version{
		ID:      "v-1",
		State:   StateStaged,
		Metrics: map[string]float64{"accuracy": 0.8},
	}); err != nil {
		t.Fatalf("PutVersion() error = %v", err)
	}

	got, _, _ := store.GetVersion(context.Background(), "v-1")
	got.Metrics["accuracy"] = 0.1

	again, _, _ := store.GetVersion(context.Background(), "v-1")
	if again.Metrics["accuracy"] != 0.8 {
		t.Error("mutating a returned version leaked into the store")
	}
}

func TestMemoryStore_ListVersions_NewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"v-old", "v-mid", "v-new"} {
		if err := store.PutVersion(context.Background(), Version{
			ID:        id,
			State:     StateStaged,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("PutVersion(%s) error = %v", id, err)
		}
	}

	got, err := store.ListVersions(context.Background())
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListVersions() returned %d versions, want 3", len(got))
	}
	if got[0].ID != "v-new" || got[2].ID != "v-old" {
		t.Errorf("ListVersions() order = [%s %s %s], want newest first", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestMemoryStore_SetCurrentID_CAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cur, err := store.CurrentID(ctx)
	if err != nil {
		t.Fatalf("CurrentID() error = %v", err)
	}
	if cur != "" {
		t.Fatalf("CurrentID() = %q on empty store, want \"\"", cur)
	}

	if err := store.SetCurrentID(ctx, "", "v-1"); err != nil {
		t.Fatalf("SetCurrentID(\"\", v-1) error = %v", err)
	}

	// Stale expectation must fail.
	if err := store.SetCurrentID(ctx, "", "v-2"); err != ErrConcurrentPromotion {
		t.Fatalf("SetCurrentID with stale expect: error = %v, want ErrConcurrentPromotion", err)
	}

	// Correct expectation succeeds.
	if err := store.SetCurrentID(ctx, "v-1", "v-2"); err != nil {
		t.Fatalf("SetCurrentID(v-1, v-2) error = %v", err)
	}

	cur, _ = store.CurrentID(ctx)
	if cur != "v-2" {
		t.Errorf("CurrentID() = %q, want v-2", cur)
	}
}

func TestMemoryStore_SetCurrentID_ConcurrentOnlyOneWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.SetCurrentID(ctx, "", fmt.Sprintf("v-%d", i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if err != ErrConcurrentPromotion {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d concurrent swaps succeeded, want exactly 1", wins)
	}
}

func TestMemoryStore_Baselines(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	b := summary.Baseline{
		ID:            "b-1",
		SourceVersion: "v-1",
		CreatedAt:     time.Now(),
		Summary: summary.Summary{
			SampleCount: 100,
			Numeric:     map[string]summary.Numeric{"age": {Count: 100, Mean: 40}},
		},
	}
	if err := store.PutBaseline(ctx, b); err != nil {
		t.Fatalf("PutBaseline() error = %v", err)
	}

	got, found, err := store.GetBaseline(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBaseline() error = %v", err)
	}
	if !found {
		t.Fatal("GetBaseline() found = false, want true")
	}
	if got.Summary.Numeric["age"].Mean != 40 {
		t.Errorf("baseline mean = %v, want 40", got.Summary.Numeric["age"].Mean)
	}

	_, found, err = store.GetBaseline(ctx, "missing")
	if err != nil {
		t.Errorf("GetBaseline(missing) error = %v", err)
	}
	if found {
		t.Error("GetBaseline(missing) found = true, want false")
	}
}

func TestMemoryStore_EvaluationHistoryCapped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := range DefaultEvaluationHistory + 10 {
		e := Evaluation{
			EvaluatedAt: time.Now(),
			Decision:    fmt.Sprintf("cycle-%d", i),
			Verdicts:    []drift.Verdict{{Feature: drift.AggregateFeature}},
		}
		if err := store.AppendEvaluation(ctx, e); err != nil {
			t.Fatalf("AppendEvaluation() error = %v", err)
		}
	}

	got, err := store.Evaluations(ctx, 0)
	if err != nil {
		t.Fatalf("Evaluations() error = %v", err)
	}
	if len(got) != DefaultEvaluationHistory {
		t.Fatalf("history length = %d, want %d", len(got), DefaultEvaluationHistory)
	}
	// Newest first.
	if got[0].Decision != fmt.Sprintf("cycle-%d", DefaultEvaluationHistory+9) {
		t.Errorf("newest evaluation = %q, want last appended", got[0].Decision)
	}
}

func TestMemoryStore_EvaluationsLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := range 5 {
		if err := store.AppendEvaluation(ctx, Evaluation{Decision: fmt.Sprintf("d-%d", i)}); err != nil {
			t.Fatalf("AppendEvaluation() error = %v", err)
		}
	}

	got, err := store.Evaluations(ctx, 2)
	if err != nil {
		t.Fatalf("Evaluations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Evaluations(2) returned %d entries, want 2", len(got))
	}
	if got[0].Decision != "d-4" || got[1].Decision != "d-3" {
		t.Errorf("Evaluations(2) = [%s %s], want newest first", got[0].Decision, got[1].Decision)
	}
}

func TestMemoryStore_JobHistoryCapped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := range DefaultJobHistory + 10 {
		j := JobRecord{
			ID:        fmt.Sprintf("job-%d", i),
			Trigger:   "drift",
			State:     "succeeded",
			StartedAt: time.Now(),
		}
		if err := store.AppendJob(ctx, j); err != nil {
			t.Fatalf("AppendJob() error = %v", err)
		}
	}

	got, err := store.JobHistory(ctx, 0)
	if err != nil {
		t.Fatalf("JobHistory() error = %v", err)
	}
	if len(got) != DefaultJobHistory {
		t.Fatalf("history length = %d, want %d", len(got), DefaultJobHistory)
	}
	// Newest first.
	if got[0].ID != fmt.Sprintf("job-%d", DefaultJobHistory+9) {
		t.Errorf("newest record = %q, want last appended", got[0].ID)
	}
}

func TestMemoryStore_JobHistoryLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := range 5 {
		if err := store.AppendJob(ctx, JobRecord{ID: fmt.Sprintf("j-%d", i)}); err != nil {
			t.Fatalf("AppendJob() error = %v", err)
		}
	}

	got, err := store.JobHistory(ctx, 2)
	if err != nil {
		t.Fatalf("JobHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("JobHistory(2) returned %d entries, want 2", len(got))
	}
	if got[0].ID != "j-4" || got[1].ID != "j-3" {
		t.Errorf("JobHistory(2) = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := Version{
				ID:        fmt.Sprintf("v-%d", i),
				State:     StateStaged,
				CreatedAt: time.Now(),
			}
			if err := store.PutVersion(ctx, v); err != nil {
				t.Errorf("PutVersion() error = %v", err)
			}
			if _, _, err := store.GetVersion(ctx, v.ID); err != nil {
				t.Errorf("GetVersion() error = %v", err)
			}
			if _, err := store.ListVersions(ctx); err != nil {
				t.Errorf("ListVersions() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 50 {
		t.Errorf("Len() = %d after concurrent writes, want 50", store.Len())
	}
}
