package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/repository/memory"
)

func testDecision(sourceID string) *repository.Decision {
	rec := repository.NormalizedRecord{
		SourceType:      "syslog",
		SourceID:        sourceID,
		IngestTimestamp: "2026-08-30T13:00:00Z",
	}
	now := time.Now().UTC()
	return &repository.Decision{
		ID:         uuid.New(),
		DedupKey:   rec.DedupKey(),
		SourceType: rec.SourceType,
		SourceID:   rec.SourceID,
		ClassID:    "net.port_scan",
		Confidence: 0.61,
		Status:     repository.StatusAuto,
		Attributes: map[string]string{},
		DecidedAt:  now,
		CreatedAt:  now,
	}
}

func TestRecordDeduplicates(t *testing.T) {
	r := New(memory.NewDecisionRepo(), nil)
	ctx := context.Background()

	first := testDecision("host-9")
	firstID, err := r.Record(ctx, first)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	duplicate := testDecision("host-9")
	dupID, err := r.Record(ctx, duplicate)
	if err != nil {
		t.Fatalf("duplicate Record failed: %v", err)
	}
	if dupID != firstID {
		t.Errorf("duplicate Record returned %v, want original id %v", dupID, firstID)
	}
}

func TestOverrideRoundTrip(t *testing.T) {
	r := New(memory.NewDecisionRepo(), nil)
	ctx := context.Background()

	d := testDecision("host-10")
	if _, err := r.Record(ctx, d); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	event, err := r.Override(ctx, d.ID, "net.vuln_scan", "matched scanner signature", "carol")
	if err != nil {
		t.Fatalf("Override failed: %v", err)
	}
	if event.DecisionID != d.ID {
		t.Errorf("event decision id = %v, want %v", event.DecisionID, d.ID)
	}

	stored, history, err := r.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.AuthoritativeClass() != "net.vuln_scan" {
		t.Errorf("AuthoritativeClass = %q, want net.vuln_scan", stored.AuthoritativeClass())
	}
	if stored.ClassID != "net.port_scan" {
		t.Errorf("auto ClassID = %q, original pick was lost", stored.ClassID)
	}
	if len(history) != 1 {
		t.Fatalf("got %d override events, want 1", len(history))
	}
	if history[0].Author != "carol" || history[0].Reason != "matched scanner signature" {
		t.Errorf("stored event = %+v", history[0])
	}
}

func TestOverrideUnknownDecision(t *testing.T) {
	r := New(memory.NewDecisionRepo(), nil)

	_, err := r.Override(context.Background(), uuid.New(), "net.port_scan", "", "carol")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
