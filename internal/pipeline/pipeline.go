// Package pipeline orchestrates classification of normalized log
// records: retrieve candidates, rerank, decide, record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/knoguchi/logclass/internal/criticality"
	"github.com/knoguchi/logclass/internal/decision"
	"github.com/knoguchi/logclass/internal/metrics"
	"github.com/knoguchi/logclass/internal/recorder"
	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/reranker"
	"github.com/knoguchi/logclass/internal/retriever"
)

var (
	// ErrOverloaded is returned when admission control rejects a record.
	ErrOverloaded = errors.New("pipeline overloaded")

	// ErrTimeout is returned when the per-record deadline is exceeded.
	ErrTimeout = errors.New("pipeline deadline exceeded")
)

// Pipeline states. Each record moves through them in order; Aborted is
// reachable from Retrieving when the backend stays unreachable.
const (
	stateReceived   = "received"
	stateRetrieving = "retrieving"
	stateReranking  = "reranking"
	stateDeciding   = "deciding"
	stateRecorded   = "recorded"
	stateAborted    = "aborted"
)

// Config holds orchestration limits.
type Config struct {
	// RecordDeadline bounds one record's end-to-end classification.
	RecordDeadline time.Duration

	// MaxInflight limits concurrently admitted records.
	MaxInflight int

	// AdmissionWait bounds how long an incoming record may wait for an
	// admission slot before being rejected.
	AdmissionWait time.Duration
}

// Pipeline drives one record at a time through the classification
// stages. The admission semaphore and the backend connections are
// shared across records; everything else is record-local.
type Pipeline struct {
	retriever retriever.Retriever
	reranker  reranker.Reranker
	engine    *decision.Engine
	recorder  *recorder.Recorder
	logger    *slog.Logger

	deadline      time.Duration
	admissionWait time.Duration
	admission     *semaphore.Weighted
}

// New creates a pipeline. Zero config values fall back to defaults.
func New(
	ret retriever.Retriever,
	rer reranker.Reranker,
	engine *decision.Engine,
	rec *recorder.Recorder,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if cfg.RecordDeadline <= 0 {
		cfg.RecordDeadline = 5 * time.Second
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 50
	}
	if cfg.AdmissionWait <= 0 {
		cfg.AdmissionWait = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		retriever:     ret,
		reranker:      rer,
		engine:        engine,
		recorder:      rec,
		logger:        logger,
		deadline:      cfg.RecordDeadline,
		admissionWait: cfg.AdmissionWait,
		admission:     semaphore.NewWeighted(int64(cfg.MaxInflight)),
	}
}

// Classify runs one record through the pipeline and returns its
// decision. Terminal outcomes are recorded whenever any data exists;
// only backend unreachability after retries aborts without a record.
func (p *Pipeline) Classify(ctx context.Context, rec *repository.NormalizedRecord) (*repository.Decision, error) {
	metrics.RecordsReceived.WithLabelValues(rec.SourceType).Inc()

	if err := p.admit(ctx); err != nil {
		metrics.PipelineErrors.WithLabelValues("overloaded").Inc()
		return nil, err
	}
	defer p.admission.Release(1)

	metrics.Inflight.Inc()
	defer metrics.Inflight.Dec()

	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	logger := p.logger.With("source_id", rec.SourceID, "source_type", rec.SourceType)
	logger.Debug("pipeline state", "state", stateReceived)

	// Retrieve
	logger.Debug("pipeline state", "state", stateRetrieving)
	retrieveStart := time.Now()
	candidates, err := p.retriever.Retrieve(ctx, rec)
	metrics.ObserveStage("retrieve", retrieveStart)
	if err != nil {
		if deadlineExceeded(ctx, err) {
			return p.recordDegraded(ctx, rec, nil, logger)
		}
		logger.Warn("pipeline state", "state", stateAborted, "error", err)
		metrics.PipelineErrors.WithLabelValues("retrieval_unavailable").Inc()
		metrics.RecordsProcessed.WithLabelValues(rec.SourceType, "aborted").Inc()
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	// Rerank
	logger.Debug("pipeline state", "state", stateReranking)
	rerankStart := time.Now()
	ranked, err := p.reranker.Rerank(ctx, rec, candidates)
	metrics.ObserveStage("rerank", rerankStart)
	if err != nil {
		if deadlineExceeded(ctx, err) {
			return p.recordDegraded(ctx, rec, reranker.FromRetrievalOrder(candidates), logger)
		}
		// All scoring calls failed: fall back to raw retrieval order
		// rather than aborting the record.
		logger.Warn("rerank unavailable, falling back to retrieval order", "error", err)
		metrics.PipelineErrors.WithLabelValues("rerank_unavailable").Inc()
		ranked = reranker.FromRetrievalOrder(candidates)
	}

	// Decide
	logger.Debug("pipeline state", "state", stateDeciding)
	d := p.engine.Decide(rec, ranked, time.Now().UTC())
	p.annotate(rec, d)

	// Record
	recordStart := time.Now()
	id, err := p.recorder.Record(ctx, d)
	metrics.ObserveStage("record", recordStart)
	if err != nil {
		if deadlineExceeded(ctx, err) {
			// The deadline blew after a full decision was made; the
			// decision itself is fine, only the write was cancelled.
			logger.Warn("pipeline deadline exceeded during record, retrying detached")
			metrics.PipelineErrors.WithLabelValues("timeout").Inc()
			return p.persistDegraded(ctx, rec, d, logger)
		}
		metrics.PipelineErrors.WithLabelValues("record_failed").Inc()
		return nil, fmt.Errorf("failed to record decision: %w", err)
	}
	d.ID = id

	logger.Info("pipeline state",
		"state", stateRecorded,
		"decision_id", d.ID,
		"class_id", d.ClassID,
		"confidence", d.Confidence,
	)
	metrics.RecordsProcessed.WithLabelValues(rec.SourceType, outcome(d)).Inc()
	metrics.Decisions.WithLabelValues(d.ClassID, d.Status).Inc()

	return d, nil
}

// SubmitOverride applies an analyst correction to a stored decision.
func (p *Pipeline) SubmitOverride(ctx context.Context, decisionID uuid.UUID, newClass, reason, author string) (*repository.OverrideEvent, error) {
	event, err := p.recorder.Override(ctx, decisionID, newClass, reason, author)
	if err != nil {
		return nil, err
	}
	metrics.Decisions.WithLabelValues(newClass, repository.StatusOverridden).Inc()
	return event, nil
}

// GetDecision returns a stored decision with its override history.
func (p *Pipeline) GetDecision(ctx context.Context, decisionID uuid.UUID) (*repository.Decision, []*repository.OverrideEvent, error) {
	return p.recorder.Get(ctx, decisionID)
}

// admit acquires an in-flight slot, waiting at most admissionWait.
func (p *Pipeline) admit(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.admissionWait)
	defer cancel()

	if err := p.admission.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrOverloaded
	}
	return nil
}

// recordDegraded handles a blown per-record deadline: losing a
// classification silently is worse than recording a low-confidence
// guess, so whatever ranked data exists is still written, detached from
// the expired deadline.
func (p *Pipeline) recordDegraded(ctx context.Context, rec *repository.NormalizedRecord, ranked []repository.RankedCandidate, logger *slog.Logger) (*repository.Decision, error) {
	logger.Warn("pipeline deadline exceeded, recording degraded decision", "candidates", len(ranked))
	metrics.PipelineErrors.WithLabelValues("timeout").Inc()

	d := p.engine.Decide(rec, ranked, time.Now().UTC())
	if len(ranked) == 0 {
		d.Confidence = 0.0
	}
	p.annotate(rec, d)
	return p.persistDegraded(ctx, rec, d, logger)
}

// persistDegraded writes an already-built decision detached from the
// expired deadline and reports the record as degraded.
func (p *Pipeline) persistDegraded(ctx context.Context, rec *repository.NormalizedRecord, d *repository.Decision, logger *slog.Logger) (*repository.Decision, error) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if _, err := p.recorder.Record(recordCtx, d); err != nil {
		logger.Error("failed to record degraded decision", "error", err)
		metrics.RecordsProcessed.WithLabelValues(rec.SourceType, "aborted").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	metrics.RecordsProcessed.WithLabelValues(rec.SourceType, "degraded").Inc()
	metrics.Decisions.WithLabelValues(d.ClassID, d.Status).Inc()
	return d, ErrTimeout
}

// annotate attaches Windows event criticality to the decision and bumps
// the high-criticality counter for alerting.
func (p *Pipeline) annotate(rec *repository.NormalizedRecord, d *repository.Decision) {
	if rec.SourceType != "windows_event_log" {
		return
	}
	eventID, ok := rec.Attributes["event_id"]
	if !ok {
		return
	}
	level := criticality.ForAttribute(eventID)
	d.Attributes["criticality"] = string(level)
	if level == criticality.High {
		metrics.HighCriticalityEvents.WithLabelValues(eventID).Inc()
	}
}

// deadlineExceeded reports whether err is due to the record's overall
// deadline rather than a backend failure.
func deadlineExceeded(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// outcome maps a decision to its processed-records metric label.
func outcome(d *repository.Decision) string {
	if d.ClassID == repository.ClassUnclassified {
		return "unclassified"
	}
	return "classified"
}
