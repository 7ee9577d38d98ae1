// Package recorder persists classification decisions and applies
// analyst overrides, closing the feedback loop.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/logclass/internal/repository"
)

// Recorder writes decisions to the durable store and appends override
// events. Record is idempotent on the decision's dedup key, so it is
// safe to retry on transient store errors.
type Recorder struct {
	repo   repository.DecisionRepository
	logger *slog.Logger
}

// New creates a recorder over the given repository.
func New(repo repository.DecisionRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record persists the decision with its candidate evidence and returns
// the stored decision id. A duplicate dedup key returns the id of the
// already-stored decision without creating a second row.
func (r *Recorder) Record(ctx context.Context, decision *repository.Decision) (uuid.UUID, error) {
	created, err := r.repo.Create(ctx, decision)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record decision: %w", err)
	}

	if !created {
		r.logger.Debug("duplicate record call deduplicated",
			"decision_id", decision.ID,
			"dedup_key", decision.DedupKey,
		)
	}

	return decision.ID, nil
}

// Override appends an analyst correction to a stored decision and
// updates its authoritative class. The original auto decision and all
// earlier override events remain retrievable. Returns
// repository.ErrNotFound for unknown decision ids.
func (r *Recorder) Override(ctx context.Context, decisionID uuid.UUID, newClass, reason, author string) (*repository.OverrideEvent, error) {
	event := &repository.OverrideEvent{
		ID:         uuid.New(),
		DecisionID: decisionID,
		ClassID:    newClass,
		Reason:     reason,
		Author:     author,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.repo.AddOverride(ctx, event); err != nil {
		return nil, err
	}

	r.logger.Info("decision overridden",
		"decision_id", decisionID,
		"new_class", newClass,
		"author", author,
	)

	return event, nil
}

// Get returns a stored decision with its full override history.
func (r *Recorder) Get(ctx context.Context, decisionID uuid.UUID) (*repository.Decision, []*repository.OverrideEvent, error) {
	decision, err := r.repo.GetByID(ctx, decisionID)
	if err != nil {
		return nil, nil, err
	}

	events, err := r.repo.ListOverrides(ctx, decisionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list overrides: %w", err)
	}

	return decision, events, nil
}
