package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/modelops/driftwatch/pkg/summary"
)

// DefaultEvaluationHistory is how many evaluation cycles a store retains.
const DefaultEvaluationHistory = 100

// DefaultJobHistory is how many finished retraining jobs a store retains.
const DefaultJobHistory = 50

// MemoryStore implements Store with in-process maps. It is safe for
// concurrent use by multiple goroutines.
//
// MemoryStore is the default backend for single-instance deployments. For
// deployments where the registry must survive restarts or be shared across
// instances, use RedisStore instead.
type MemoryStore struct {
	mu          sync.RWMutex
	versions    map[string]Version
	baselines   map[string]summary.Baseline
	current     string
	evaluations []Evaluation
	jobs        []JobRecord
	historyCap  int
	jobCap      int
}

// NewMemoryStore creates an empty in-memory store with the default
// history caps.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions:   make(map[string]Version),
		baselines:  make(map[string]summary.Baseline),
		historyCap: DefaultEvaluationHistory,
		jobCap:     DefaultJobHistory,
	}
}

func (s *MemoryStore) PutVersion(ctx context.Context, v Version) error {
	if err := v.Validate(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions[v.ID] = cloneVersion(v)
	return nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, id string) (Version, bool, error) {
	select {
	case <-ctx.Done():
		return Version{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, found := s.versions[id]
	if !found {
		return Version{}, false, nil
	}
	return cloneVersion(v), true, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context) ([]Version, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Version, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, cloneVersion(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CurrentID(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *MemoryStore) SetCurrentID(ctx context.Context, expect, next string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != expect {
		return ErrConcurrentPromotion
	}
	s.current = next
	return nil
}

func (s *MemoryStore) PutBaseline(ctx context.Context, b summary.Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.baselines[b.ID] = b
	return nil
}

func (s *MemoryStore) GetBaseline(ctx context.Context, id string) (summary.Baseline, bool, error) {
	select {
	case <-ctx.Done():
		return summary.Baseline{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, found := s.baselines[id]
	return b, found, nil
}

func (s *MemoryStore) AppendEvaluation(ctx context.Context, e Evaluation) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evaluations = append(s.evaluations, e)
	if len(s.evaluations) > s.historyCap {
		s.evaluations = s.evaluations[len(s.evaluations)-s.historyCap:]
	}
	return nil
}

func (s *MemoryStore) Evaluations(ctx context.Context, limit int) ([]Evaluation, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.evaluations)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Evaluation, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.evaluations[i])
	}
	return out, nil
}

func (s *MemoryStore) AppendJob(ctx context.Context, j JobRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, j)
	if len(s.jobs) > s.jobCap {
		s.jobs = s.jobs[len(s.jobs)-s.jobCap:]
	}
	return nil
}

func (s *MemoryStore) JobHistory(ctx context.Context, limit int) ([]JobRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.jobs)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]JobRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.jobs[i])
	}
	return out, nil
}

// Len returns the number of versions currently stored.
// This method is primarily useful for testing and metrics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}

// cloneVersion copies a version so callers cannot mutate stored state
// through the shared metrics map.
func cloneVersion(v Version) Version {
	out := v
	if v.Metrics != nil {
		out.Metrics = make(map[string]float64, len(v.Metrics))
		for k, val := range v.Metrics {
			out.Metrics[k] = val
		}
	}
	if v.PromotedAt != nil {
		t := *v.PromotedAt
		out.PromotedAt = &t
	}
	if v.ArchivedAt != nil {
		t := *v.ArchivedAt
		out.ArchivedAt = &t
	}
	return out
}
