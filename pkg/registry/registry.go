package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Registry applies the version lifecycle rules on top of a Store.
//
// All transitions funnel through the current-production pointer's
// compare-and-swap, so two concurrent promotions cannot both succeed even
// with a shared Redis backend.
type Registry struct {
	store  Store
	gates  []Gate
	logger *slog.Logger
	now    func() time.Time
}

// New creates a registry. Gates are evaluated on every promotion; an empty
// slice disables gating.
func New(store Store, gates []Gate, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		gates:  gates,
		logger: logger,
		now:    time.Now,
	}
}

// Register stores a freshly trained version in the staged state.
func (g *Registry) Register(ctx context.Context, v Version) (Version, error) {
	v.State = StateStaged
	if v.CreatedAt.IsZero() {
		v.CreatedAt = g.now()
	}
	if err := g.store.PutVersion(ctx, v); err != nil {
		return Version{}, err
	}

	g.logger.Info("version staged",
		slog.String("version", v.ID),
		slog.String("baseline", v.BaselineID))
	return v, nil
}

// Promote moves a staged version into production. The previous production
// version, if any, is archived. Promotion gates compare the candidate's
// metrics against the current production version and against absolute
// minimums; any failure rejects the candidate.
func (g *Registry) Promote(ctx context.Context, id string) (Version, error) {
	cand, found, err := g.store.GetVersion(ctx, id)
	if err != nil {
		return Version{}, err
	}
	if !found {
		return Version{}, fmt.Errorf("promote %s: %w", id, ErrVersionNotFound)
	}
	if cand.State != StateStaged {
		return Version{}, &InvalidStateTransitionError{ID: id, From: cand.State, To: StateProduction}
	}

	curID, err := g.store.CurrentID(ctx)
	if err != nil {
		return Version{}, err
	}

	var prev Version
	var hasPrev bool
	if curID != "" {
		prev, hasPrev, err = g.store.GetVersion(ctx, curID)
		if err != nil {
			return Version{}, err
		}
	}

	if failures := g.checkGates(cand, prev, hasPrev); len(failures) > 0 {
		gateErr := &GateError{ID: id, Failures: failures}
		cand.State = StateRejected
		cand.RejectReason = gateErr.Error()
		if err := g.store.PutVersion(ctx, cand); err != nil {
			return Version{}, err
		}
		g.logger.Warn("version rejected by gates",
			slog.String("version", id),
			slog.Any("failures", failures))
		return Version{}, gateErr
	}

	// The CAS on the pointer is the commit point; state records follow.
	if err := g.store.SetCurrentID(ctx, curID, id); err != nil {
		return Version{}, err
	}

	now := g.now()
	cand.State = StateProduction
	cand.PromotedAt = &now
	if err := g.store.PutVersion(ctx, cand); err != nil {
		return Version{}, err
	}

	if hasPrev {
		prev.State = StateArchived
		prev.ArchivedAt = &now
		if err := g.store.PutVersion(ctx, prev); err != nil {
			return Version{}, err
		}
	}

	g.logger.Info("version promoted",
		slog.String("version", id),
		slog.String("replaced", curID))
	return cand, nil
}

// Reject marks a staged version as rejected with an operator-supplied
// reason. Rejected is terminal.
func (g *Registry) Reject(ctx context.Context, id, reason string) (Version, error) {
	v, found, err := g.store.GetVersion(ctx, id)
	if err != nil {
		return Version{}, err
	}
	if !found {
		return Version{}, fmt.Errorf("reject %s: %w", id, ErrVersionNotFound)
	}
	if v.State != StateStaged {
		return Version{}, &InvalidStateTransitionError{ID: id, From: v.State, To: StateRejected}
	}

	v.State = StateRejected
	v.RejectReason = reason
	if err := g.store.PutVersion(ctx, v); err != nil {
		return Version{}, err
	}

	g.logger.Info("version rejected",
		slog.String("version", id),
		slog.String("reason", reason))
	return v, nil
}

// Rollback restores an archived version that previously served production.
// No retraining happens; the archived artifact goes straight back into
// service and the current production version is archived in its place.
func (g *Registry) Rollback(ctx context.Context, id string) (Version, error) {
	target, found, err := g.store.GetVersion(ctx, id)
	if err != nil {
		return Version{}, err
	}
	if !found {
		return Version{}, fmt.Errorf("rollback %s: %w", id, ErrVersionNotFound)
	}
	if target.State != StateArchived || target.PromotedAt == nil {
		return Version{}, &InvalidStateTransitionError{ID: id, From: target.State, To: StateProduction}
	}

	curID, err := g.store.CurrentID(ctx)
	if err != nil {
		return Version{}, err
	}

	var prev Version
	var hasPrev bool
	if curID != "" {
		prev, hasPrev, err = g.store.GetVersion(ctx, curID)
		if err != nil {
			return Version{}, err
		}
	}

	if err := g.store.SetCurrentID(ctx, curID, id); err != nil {
		return Version{}, err
	}

	now := g.now()
	target.State = StateProduction
	target.ArchivedAt = nil
	target.PromotedAt = &now
	if err := g.store.PutVersion(ctx, target); err != nil {
		return Version{}, err
	}

	if hasPrev {
		prev.State = StateArchived
		prev.ArchivedAt = &now
		if err := g.store.PutVersion(ctx, prev); err != nil {
			return Version{}, err
		}
	}

	g.logger.Warn("rolled back to archived version",
		slog.String("version", id),
		slog.String("replaced", curID))
	return target, nil
}

// Current returns the version currently in production.
func (g *Registry) Current(ctx context.Context) (Version, bool, error) {
	id, err := g.store.CurrentID(ctx)
	if err != nil {
		return Version{}, false, err
	}
	if id == "" {
		return Version{}, false, nil
	}
	return g.store.GetVersion(ctx, id)
}

// Get returns a version by id.
func (g *Registry) Get(ctx context.Context, id string) (Version, bool, error) {
	return g.store.GetVersion(ctx, id)
}

// List returns all versions, newest first.
func (g *Registry) List(ctx context.Context) ([]Version, error) {
	return g.store.ListVersions(ctx)
}

func (g *Registry) checkGates(cand, prev Version, hasPrev bool) []string {
	var failures []string
	for _, gate := range g.gates {
		candVal, ok := cand.Metrics[gate.Metric]
		if !ok {
			failures = append(failures, fmt.Sprintf("metric %s missing from candidate", gate.Metric))
			continue
		}
		if candVal < gate.MinValue {
			failures = append(failures, fmt.Sprintf("%s=%.4f below minimum %.4f", gate.Metric, candVal, gate.MinValue))
			continue
		}
		if hasPrev {
			if prevVal, ok := prev.Metrics[gate.Metric]; ok && candVal < prevVal-gate.Tolerance {
				failures = append(failures,
					fmt.Sprintf("%s=%.4f regresses beyond tolerance %.4f from production %.4f",
						gate.Metric, candVal, gate.Tolerance, prevVal))
			}
		}
	}
	return failures
}
