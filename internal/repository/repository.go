// Package repository defines domain models and data access interfaces for
// classification decisions and their override history.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// NormalizedRecord is one normalized log entry as produced by the
// upstream normalizer. It is owned by a single classification call and
// never mutated.
type NormalizedRecord struct {
	Text            string            `json:"text"`
	Attributes      map[string]string `json:"attributes"`
	SourceType      string            `json:"sourceType"`
	SourceID        string            `json:"sourceId"`
	IngestTimestamp string            `json:"ingestTimestamp"` // ISO-8601
}

// DedupKey derives the stable deduplication key for a record. Recording
// the same record twice must not create two decisions, so the key is a
// deterministic UUID over source identity and ingestion time.
func (r *NormalizedRecord) DedupKey() uuid.UUID {
	name := fmt.Sprintf("%s@%s", r.SourceID, r.IngestTimestamp)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// Evidence is a chunk reference backing a candidate class.
type Evidence struct {
	ChunkID string `json:"chunk_id"`
	Excerpt string `json:"excerpt"`
}

// RankedCandidate is a candidate taxonomy class after reranking, as
// stored with the decision. Rank positions are contiguous from 0 in
// descending rerank-score order; ties break by descending retrieval
// score, then lexicographically smaller class id.
type RankedCandidate struct {
	ClassID        string     `json:"class_id"`
	Label          string     `json:"label"`
	RetrievalScore float64    `json:"retrieval_score"` // backend-native scale
	RerankScore    float64    `json:"rerank_score"`    // normalized to [0,1]
	Rank           int        `json:"rank"`
	Evidence       []Evidence `json:"evidence,omitempty"`
}

// Decision statuses. A decision starts as auto and only ever moves to
// overridden; its candidate evidence is retained verbatim.
const (
	StatusAuto       = "auto"
	StatusOverridden = "overridden"

	// ClassUnclassified is the sentinel class for abstention.
	ClassUnclassified = "unclassified"
)

// Decision is the durable outcome of classifying one record.
// OverrideClass holds the authoritative class once an analyst has
// overridden; ClassID always keeps the original auto pick.
type Decision struct {
	ID         uuid.UUID
	DedupKey   uuid.UUID
	SourceType string
	SourceID   string
	ClassID    string
	Confidence float64
	Status     string
	Candidates []RankedCandidate
	Attributes map[string]string

	OverrideClass  string
	OverriddenAt   *time.Time
	OverrideAuthor string

	DecidedAt time.Time
	CreatedAt time.Time
}

// AuthoritativeClass returns the class that reporting should use: the
// latest override if one exists, the auto pick otherwise.
func (d *Decision) AuthoritativeClass() string {
	if d.Status == StatusOverridden && d.OverrideClass != "" {
		return d.OverrideClass
	}
	return d.ClassID
}

// OverrideEvent is one analyst correction of a decision. Events are
// append-only; a decision may accumulate several and all are retained.
type OverrideEvent struct {
	ID         uuid.UUID
	DecisionID uuid.UUID
	ClassID    string
	Reason     string
	Author     string
	CreatedAt  time.Time
}

// DecisionRepository defines operations for decision persistence.
// Create is idempotent on the dedup key: a second call for the same key
// returns the already-stored decision with created=false.
type DecisionRepository interface {
	Create(ctx context.Context, decision *Decision) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Decision, error)
	GetByDedupKey(ctx context.Context, key uuid.UUID) (*Decision, error)

	// Override operations
	AddOverride(ctx context.Context, event *OverrideEvent) error
	ListOverrides(ctx context.Context, decisionID uuid.UUID) ([]*OverrideEvent, error)
}
