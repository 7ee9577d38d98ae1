// Package memory provides an in-process DecisionRepository used in tests
// and when the service runs without a database.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/knoguchi/logclass/internal/repository"
)

// DecisionRepo stores decisions and override events in maps guarded by a
// single mutex. Override history is append-only, matching the durable
// store's contract.
type DecisionRepo struct {
	mu        sync.RWMutex
	decisions map[uuid.UUID]*repository.Decision
	byDedup   map[uuid.UUID]uuid.UUID
	overrides map[uuid.UUID][]*repository.OverrideEvent
}

// NewDecisionRepo creates an empty in-memory decision repository.
func NewDecisionRepo() *DecisionRepo {
	return &DecisionRepo{
		decisions: make(map[uuid.UUID]*repository.Decision),
		byDedup:   make(map[uuid.UUID]uuid.UUID),
		overrides: make(map[uuid.UUID][]*repository.OverrideEvent),
	}
}

// Create stores the decision unless its dedup key is already present, in
// which case the stored decision is copied back and created=false.
func (r *DecisionRepo) Create(_ context.Context, decision *repository.Decision) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byDedup[decision.DedupKey]; ok {
		*decision = *r.decisions[existingID]
		return false, nil
	}

	stored := *decision
	r.decisions[decision.ID] = &stored
	r.byDedup[decision.DedupKey] = decision.ID
	return true, nil
}

// GetByID returns a copy of the stored decision.
func (r *DecisionRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.decisions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

// GetByDedupKey returns a copy of the decision stored under the key.
func (r *DecisionRepo) GetByDedupKey(_ context.Context, key uuid.UUID) (*repository.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byDedup[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *r.decisions[id]
	return &copied, nil
}

// AddOverride appends the event and updates the authoritative-class
// projection on the decision.
func (r *DecisionRepo) AddOverride(_ context.Context, event *repository.OverrideEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[event.DecisionID]
	if !ok {
		return repository.ErrNotFound
	}

	stored := *event
	r.overrides[event.DecisionID] = append(r.overrides[event.DecisionID], &stored)

	d.Status = repository.StatusOverridden
	d.OverrideClass = event.ClassID
	d.OverrideAuthor = event.Author
	at := event.CreatedAt
	d.OverriddenAt = &at
	return nil
}

// ListOverrides returns copies of all events for a decision, oldest first.
func (r *DecisionRepo) ListOverrides(_ context.Context, decisionID uuid.UUID) ([]*repository.OverrideEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.overrides[decisionID]
	out := make([]*repository.OverrideEvent, len(events))
	for i, e := range events {
		copied := *e
		out[i] = &copied
	}
	return out, nil
}

// Ensure DecisionRepo implements the interface
var _ repository.DecisionRepository = (*DecisionRepo)(nil)
