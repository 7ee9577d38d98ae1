// Package retriever produces candidate taxonomy classes for a normalized
// log record by querying the external chunk search backend.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knoguchi/logclass/internal/repository"
)

// ErrUnavailable is returned when the search backend cannot be reached
// or times out. Retrieval is idempotent, so callers may retry.
var ErrUnavailable = errors.New("retrieval backend unavailable")

// Candidate is one candidate taxonomy class with its backend-native
// retrieval score. Scores are not comparable across different records.
type Candidate struct {
	ClassID  string
	Label    string
	Score    float64
	Evidence []repository.Evidence
}

// Retriever defines the capability interface for candidate retrieval.
type Retriever interface {
	// Retrieve returns up to K candidates ordered by descending
	// backend score for the record's primary text field.
	Retrieve(ctx context.Context, rec *repository.NormalizedRecord) ([]Candidate, error)
}

// Retrying wraps a Retriever with bounded retries and exponential
// backoff. Only ErrUnavailable is retried; anything else propagates
// unchanged on the first attempt.
type Retrying struct {
	inner   Retriever
	retries int
	backoff time.Duration
}

// NewRetrying creates a retrying wrapper. retries is the number of
// additional attempts after the first; backoff is the base delay,
// doubled per attempt.
func NewRetrying(inner Retriever, retries int, backoff time.Duration) *Retrying {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Retrying{inner: inner, retries: retries, backoff: backoff}
}

// Retrieve retries the wrapped retriever on ErrUnavailable.
func (r *Retrying) Retrieve(ctx context.Context, rec *repository.NormalizedRecord) ([]Candidate, error) {
	var lastErr error

	delay := r.backoff
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			delay *= 2
		}

		candidates, err := r.inner.Retrieve(ctx, rec)
		if err == nil {
			return candidates, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("retrieval failed after %d attempts: %w", r.retries+1, lastErr)
}

// Ensure Retrying implements Retriever
var _ Retriever = (*Retrying)(nil)
