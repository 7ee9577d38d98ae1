package reranker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/retriever"
	"github.com/knoguchi/logclass/internal/scorer"
)

const (
	// DefaultConcurrency bounds parallel scoring calls per record.
	DefaultConcurrency = 5

	// DefaultTimeout bounds one candidate's scoring call.
	DefaultTimeout = 1 * time.Second
)

// ScorerReranker implements Reranker using a pairwise scorer.
type ScorerReranker struct {
	scorer      scorer.Scorer
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// Option is a functional option for configuring ScorerReranker.
type Option func(*ScorerReranker)

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) Option {
	return func(r *ScorerReranker) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTimeout sets the per-candidate scoring timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *ScorerReranker) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *ScorerReranker) {
		r.logger = logger
	}
}

// NewScorerReranker creates a reranker backed by the given scorer.
func NewScorerReranker(s scorer.Scorer, opts ...Option) *ScorerReranker {
	r := &ScorerReranker{
		scorer:      s,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("scoring_model", s.ModelName())

	return r
}

// Rerank scores candidates concurrently and returns the survivors in
// deterministic order. Scoring failures drop the candidate; if every
// candidate is dropped the whole call fails with ErrUnavailable.
func (r *ScorerReranker) Rerank(ctx context.Context, rec *repository.NormalizedRecord, candidates []retriever.Candidate) ([]repository.RankedCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	concurrency := r.concurrency
	if len(candidates) < concurrency {
		concurrency = len(candidates)
	}

	// Slot per candidate; failed slots stay nil and are skipped below.
	scored := make([]*repository.RankedCandidate, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, cand := range candidates {
		g.Go(func() error {
			scoreCtx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()

			score, err := r.scorer.Score(scoreCtx, rec.Text, candidateText(cand))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Debug("dropping candidate after scoring failure",
					"class_id", cand.ClassID,
					"error", err,
				)
				return nil
			}

			scored[i] = &repository.RankedCandidate{
				ClassID:        cand.ClassID,
				Label:          cand.Label,
				RetrievalScore: cand.Score,
				RerankScore:    score,
				Evidence:       cand.Evidence,
			}
			return nil
		})
	}

	// A worker error is only ever the parent context's cancellation;
	// scoring failures are dropped above.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := make([]repository.RankedCandidate, 0, len(candidates))
	for _, rc := range scored {
		if rc != nil {
			ranked = append(ranked, *rc)
		}
	}

	if len(ranked) == 0 {
		return nil, ErrUnavailable
	}

	SortRanked(ranked)
	return ranked, nil
}

// candidateText assembles the text scored against the record: the class
// label plus its evidence excerpts.
func candidateText(cand retriever.Candidate) string {
	var sb strings.Builder
	sb.WriteString(cand.Label)
	for _, ev := range cand.Evidence {
		if ev.Excerpt == "" {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(ev.Excerpt)
	}
	return sb.String()
}

// Ensure ScorerReranker implements Reranker interface.
var _ Reranker = (*ScorerReranker)(nil)
