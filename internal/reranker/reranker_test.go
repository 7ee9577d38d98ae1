package reranker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/retriever"
)

// fakeScorer returns a fixed score per class label and an error for
// labels listed in fail.
type fakeScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	fail   map[string]bool
	calls  int
}

func (f *fakeScorer) Score(_ context.Context, _ string, candidateText string) (float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	label := candidateText
	if i := strings.IndexByte(candidateText, '\n'); i >= 0 {
		label = candidateText[:i]
	}
	if f.fail[label] {
		return 0, errors.New("scoring backend down")
	}
	return f.scores[label], nil
}

func (f *fakeScorer) ModelName() string { return "fake" }

func candidates(labels ...string) []retriever.Candidate {
	out := make([]retriever.Candidate, len(labels))
	for i, label := range labels {
		out[i] = retriever.Candidate{
			ClassID: strings.ToLower(label),
			Label:   label,
			Score:   0.5,
		}
	}
	return out
}

func testRecord() *repository.NormalizedRecord {
	return &repository.NormalizedRecord{
		Text:            "user logged in from 10.0.0.5",
		SourceType:      "syslog",
		SourceID:        "host-1",
		IngestTimestamp: "2026-08-30T09:00:00Z",
	}
}

func TestRerankOrdersByScore(t *testing.T) {
	s := &fakeScorer{scores: map[string]float64{"A": 0.2, "B": 0.9, "C": 0.6}}
	r := NewScorerReranker(s)

	ranked, err := r.Rerank(context.Background(), testRecord(), candidates("A", "B", "C"))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}

	want := []string{"b", "c", "a"}
	if len(ranked) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(ranked), len(want))
	}
	for i, classID := range want {
		if ranked[i].ClassID != classID {
			t.Errorf("rank %d = %q, want %q", i, ranked[i].ClassID, classID)
		}
		if ranked[i].Rank != i {
			t.Errorf("rank field at position %d = %d", i, ranked[i].Rank)
		}
	}
}

func TestRerankIsPermutationInvariant(t *testing.T) {
	scores := map[string]float64{"A": 0.3, "B": 0.8, "C": 0.55, "D": 0.1}

	orders := [][]string{
		{"A", "B", "C", "D"},
		{"D", "C", "B", "A"},
		{"B", "D", "A", "C"},
	}

	var first []string
	for _, order := range orders {
		r := NewScorerReranker(&fakeScorer{scores: scores})
		ranked, err := r.Rerank(context.Background(), testRecord(), candidates(order...))
		if err != nil {
			t.Fatalf("Rerank(%v) failed: %v", order, err)
		}
		got := make([]string, len(ranked))
		for i, rc := range ranked {
			got[i] = rc.ClassID
		}
		if first == nil {
			first = got
			continue
		}
		for i := range first {
			if got[i] != first[i] {
				t.Errorf("input order %v produced %v, earlier order produced %v", order, got, first)
				break
			}
		}
	}
}

func TestRerankTieBreaks(t *testing.T) {
	// Equal rerank scores: higher retrieval score first, then smaller
	// class id.
	cands := []retriever.Candidate{
		{ClassID: "z.class", Label: "Same", Score: 0.4},
		{ClassID: "a.class", Label: "Same", Score: 0.4},
		{ClassID: "m.class", Label: "Same", Score: 0.9},
	}
	s := &fakeScorer{scores: map[string]float64{"Same": 0.7}}
	r := NewScorerReranker(s)

	ranked, err := r.Rerank(context.Background(), testRecord(), cands)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}

	want := []string{"m.class", "a.class", "z.class"}
	for i, classID := range want {
		if ranked[i].ClassID != classID {
			t.Errorf("rank %d = %q, want %q", i, ranked[i].ClassID, classID)
		}
	}
}

func TestRerankDropsFailedCandidates(t *testing.T) {
	s := &fakeScorer{
		scores: map[string]float64{"A": 0.9, "C": 0.4},
		fail:   map[string]bool{"B": true},
	}
	r := NewScorerReranker(s)

	ranked, err := r.Rerank(context.Background(), testRecord(), candidates("A", "B", "C"))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}

	if len(ranked) != 2 {
		t.Fatalf("got %d candidates, want 2", len(ranked))
	}
	for _, rc := range ranked {
		if rc.ClassID == "b" {
			t.Error("failed candidate survived reranking")
		}
	}
	// Ranks stay contiguous after the drop.
	for i, rc := range ranked {
		if rc.Rank != i {
			t.Errorf("rank field at position %d = %d", i, rc.Rank)
		}
	}
}

func TestRerankAllFailedReturnsUnavailable(t *testing.T) {
	s := &fakeScorer{fail: map[string]bool{"A": true, "B": true}}
	r := NewScorerReranker(s)

	_, err := r.Rerank(context.Background(), testRecord(), candidates("A", "B"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

// cancelledScorer fails the way a real client does once its context is
// gone.
type cancelledScorer struct{}

func (cancelledScorer) Score(ctx context.Context, _, _ string) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (cancelledScorer) ModelName() string { return "cancelled" }

func TestRerankPropagatesCancellation(t *testing.T) {
	r := NewScorerReranker(cancelledScorer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Rerank(ctx, testRecord(), candidates("A", "B"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRerankEmptyInput(t *testing.T) {
	r := NewScorerReranker(&fakeScorer{})

	ranked, err := r.Rerank(context.Background(), testRecord(), nil)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(ranked) != 0 {
		t.Errorf("got %d candidates, want 0", len(ranked))
	}
}

func TestFromRetrievalOrderClampsScores(t *testing.T) {
	cands := []retriever.Candidate{
		{ClassID: "a", Label: "A", Score: 1.7},
		{ClassID: "b", Label: "B", Score: 0.6},
		{ClassID: "c", Label: "C", Score: -0.2},
	}

	ranked := FromRetrievalOrder(cands)

	if len(ranked) != 3 {
		t.Fatalf("got %d candidates, want 3", len(ranked))
	}
	if ranked[0].ClassID != "a" || ranked[0].RerankScore != 1.0 {
		t.Errorf("top = (%q, %v), want (a, 1.0)", ranked[0].ClassID, ranked[0].RerankScore)
	}
	if ranked[1].RerankScore != 0.6 {
		t.Errorf("middle rerank score = %v, want 0.6", ranked[1].RerankScore)
	}
	if ranked[2].RerankScore != 0.0 {
		t.Errorf("bottom rerank score = %v, want 0.0", ranked[2].RerankScore)
	}
	// Retrieval scores are kept verbatim for audit.
	if ranked[0].RetrievalScore != 1.7 {
		t.Errorf("retrieval score = %v, want 1.7", ranked[0].RetrievalScore)
	}
}
