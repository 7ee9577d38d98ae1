package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/logclass/internal/repository"
)

// DecisionRepo implements repository.DecisionRepository
type DecisionRepo struct {
	db *DB
}

// NewDecisionRepo creates a new decision repository
func NewDecisionRepo(db *DB) *DecisionRepo {
	return &DecisionRepo{db: db}
}

const decisionColumns = `
	id, dedup_key, source_type, source_id, class_id, confidence, status,
	candidates, attributes, override_class, overridden_at, override_author,
	decided_at, created_at
`

// Create persists a decision with its candidate evidence in one insert.
// A duplicate dedup key leaves the existing row untouched; the stored
// decision is read back so callers always see the canonical row.
func (r *DecisionRepo) Create(ctx context.Context, decision *repository.Decision) (bool, error) {
	candidatesJSON, err := json.Marshal(decision.Candidates)
	if err != nil {
		return false, fmt.Errorf("failed to marshal candidates: %w", err)
	}
	attributesJSON, err := json.Marshal(decision.Attributes)
	if err != nil {
		return false, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO decisions (id, dedup_key, source_type, source_id, class_id, confidence, status,
			candidates, attributes, override_class, override_author, decided_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', '', $10, $11)
		ON CONFLICT (dedup_key) DO NOTHING
	`
	result, err := r.db.Pool.Exec(ctx, query,
		decision.ID, decision.DedupKey, decision.SourceType, decision.SourceID,
		decision.ClassID, decision.Confidence, decision.Status,
		candidatesJSON, attributesJSON, decision.DecidedAt, decision.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create decision: %w", err)
	}

	if result.RowsAffected() > 0 {
		return true, nil
	}

	existing, err := r.GetByDedupKey(ctx, decision.DedupKey)
	if err != nil {
		return false, fmt.Errorf("failed to load existing decision: %w", err)
	}
	*decision = *existing
	return false, nil
}

// GetByID retrieves a decision by ID
func (r *DecisionRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE id = $1`
	return r.scanDecision(ctx, query, id)
}

// GetByDedupKey retrieves a decision by its deduplication key
func (r *DecisionRepo) GetByDedupKey(ctx context.Context, key uuid.UUID) (*repository.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE dedup_key = $1`
	return r.scanDecision(ctx, query, key)
}

func (r *DecisionRepo) scanDecision(ctx context.Context, query string, args ...any) (*repository.Decision, error) {
	var d repository.Decision
	var candidatesJSON, attributesJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&d.ID, &d.DedupKey, &d.SourceType, &d.SourceID, &d.ClassID,
		&d.Confidence, &d.Status, &candidatesJSON, &attributesJSON,
		&d.OverrideClass, &d.OverriddenAt, &d.OverrideAuthor,
		&d.DecidedAt, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}

	if err := json.Unmarshal(candidatesJSON, &d.Candidates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
	}
	d.Attributes = make(map[string]string)
	if err := json.Unmarshal(attributesJSON, &d.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}

	return &d, nil
}

// AddOverride appends an override event and updates the decision's
// authoritative-class projection in a single transaction. The original
// auto decision and earlier events are never touched.
func (r *DecisionRepo) AddOverride(ctx context.Context, event *repository.OverrideEvent) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE decisions
		SET status = $2, override_class = $3, overridden_at = $4, override_author = $5
		WHERE id = $1
	`, event.DecisionID, repository.StatusOverridden, event.ClassID, event.CreatedAt, event.Author)
	if err != nil {
		return fmt.Errorf("failed to update decision projection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO override_events (id, decision_id, class_id, reason, author, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.DecisionID, event.ClassID, event.Reason, event.Author, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert override event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit override: %w", err)
	}
	return nil
}

// ListOverrides returns all override events for a decision, oldest first
func (r *DecisionRepo) ListOverrides(ctx context.Context, decisionID uuid.UUID) ([]*repository.OverrideEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, decision_id, class_id, reason, author, created_at
		FROM override_events
		WHERE decision_id = $1
		ORDER BY created_at
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var events []*repository.OverrideEvent
	for rows.Next() {
		var e repository.OverrideEvent
		if err := rows.Scan(&e.ID, &e.DecisionID, &e.ClassID, &e.Reason, &e.Author, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override event: %w", err)
		}
		events = append(events, &e)
	}

	return events, nil
}

// Ensure DecisionRepo implements the interface
var _ repository.DecisionRepository = (*DecisionRepo)(nil)
