// Package scorer provides pairwise relevance scoring between a log
// record and a candidate's taxonomy evidence.
//
// Scoring a (query, candidate) pair together is more precise than the
// retrieval scores, which rank each chunk independently. It is also
// slower, so the reranker only applies it to the small candidate set.
package scorer

import "context"

// Scorer defines the interface for pairwise relevance scoring.
type Scorer interface {
	// Score rates how well candidateText answers queryText on a
	// [0,1] scale. Implementations may call an external service.
	Score(ctx context.Context, queryText, candidateText string) (float64, error)

	// ModelName returns the scoring model identifier for logging.
	ModelName() string
}
