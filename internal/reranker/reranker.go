// Package reranker re-scores retrieval candidates with a pairwise
// scorer to correct retrieval noise before a decision is made.
//
// Reranking adds one scoring call per candidate, so calls run through a
// bounded worker pool with a per-candidate timeout. A candidate whose
// scoring call fails is dropped rather than failing the batch; partial
// results are expected under load.
package reranker

import (
	"context"
	"errors"
	"sort"

	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/retriever"
)

// ErrUnavailable is returned when every candidate's scoring call failed.
// Callers should fall back to raw retrieval order.
var ErrUnavailable = errors.New("rerank scoring unavailable")

// Reranker defines the interface for re-scoring retrieval candidates.
type Reranker interface {
	// Rerank scores each candidate against the record and returns the
	// survivors as a ranked list. Ordering is deterministic: descending
	// rerank score, ties by descending retrieval score, then
	// lexicographically smaller class id.
	Rerank(ctx context.Context, rec *repository.NormalizedRecord, candidates []retriever.Candidate) ([]repository.RankedCandidate, error)
}

// SortRanked orders candidates with the deterministic tie-break and
// assigns contiguous rank positions from 0.
func SortRanked(ranked []repository.RankedCandidate) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RerankScore != b.RerankScore {
			return a.RerankScore > b.RerankScore
		}
		if a.RetrievalScore != b.RetrievalScore {
			return a.RetrievalScore > b.RetrievalScore
		}
		return a.ClassID < b.ClassID
	})
	for i := range ranked {
		ranked[i].Rank = i
	}
}

// FromRetrievalOrder builds a ranked list directly from retrieval
// candidates when rerank scoring is unavailable. Backend scores are
// clamped to [0,1] so the decision thresholds still apply; cosine
// similarity backends already produce scores in that range.
func FromRetrievalOrder(candidates []retriever.Candidate) []repository.RankedCandidate {
	ranked := make([]repository.RankedCandidate, len(candidates))
	for i, cand := range candidates {
		score := cand.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		ranked[i] = repository.RankedCandidate{
			ClassID:        cand.ClassID,
			Label:          cand.Label,
			RetrievalScore: cand.Score,
			RerankScore:    score,
			Evidence:       cand.Evidence,
		}
	}
	SortRanked(ranked)
	return ranked
}
