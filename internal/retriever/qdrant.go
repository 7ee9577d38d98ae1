package retriever

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/qdrant/go-client/qdrant"

	"github.com/knoguchi/logclass/internal/embedder"
	"github.com/knoguchi/logclass/internal/repository"
)

const (
	// sourceTypeAny tags chunks that apply to every log source.
	sourceTypeAny = "any"

	// excerptMaxLen bounds evidence excerpts carried through the pipeline.
	excerptMaxLen = 500
)

// QdrantConfig holds configuration for the qdrant-backed retriever.
type QdrantConfig struct {
	// Collection is the taxonomy chunk collection name.
	Collection string

	// TopK limits the number of candidate classes returned.
	TopK int

	// Timeout bounds a single search attempt, embedding included.
	Timeout time.Duration
}

// QdrantRetriever implements Retriever against a qdrant collection of
// taxonomy chunks. Each point carries class_id, label, content and a
// source_type payload tag.
type QdrantRetriever struct {
	client     *qdrant.Client
	embedder   embedder.Embedder
	collection string
	topK       int
	timeout    time.Duration
}

// NewQdrantRetriever creates a retriever connected to qdrant.
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantRetriever(url string, embed embedder.Embedder, cfg QdrantConfig) (*QdrantRetriever, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &QdrantRetriever{
		client:     client,
		embedder:   embed,
		collection: cfg.Collection,
		topK:       topK,
		timeout:    timeout,
	}, nil
}

// Close closes the qdrant client connection
func (r *QdrantRetriever) Close() error {
	return r.client.Close()
}

// Retrieve embeds the record text and searches the taxonomy collection.
// Chunk hits are aggregated per class: the best-scoring chunk sets the
// class score, every hit contributes an evidence snippet. Backend errors
// and timeouts map to ErrUnavailable.
func (r *QdrantRetriever) Retrieve(ctx context.Context, rec *repository.NormalizedRecord) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vector, err := r.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}

	// Over-fetch chunk hits so that classes backed by several chunks
	// still leave room for topK distinct candidates.
	limit := uint64(r.topK * 3)

	query := &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if rec.SourceType != "" {
		query.Filter = &qdrant.Filter{
			Should: []*qdrant.Condition{
				qdrant.NewMatch("source_type", rec.SourceType),
				qdrant.NewMatch("source_type", sourceTypeAny),
			},
		}
	}

	response, err := r.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return r.aggregate(response), nil
}

// aggregate folds chunk hits into per-class candidates ordered by
// descending best-chunk score, capped at topK.
func (r *QdrantRetriever) aggregate(points []*qdrant.ScoredPoint) []Candidate {
	byClass := make(map[string]*Candidate)
	order := make([]string, 0, len(points))

	for _, point := range points {
		payload := point.Payload
		if payload == nil {
			continue
		}
		classID := payload["class_id"].GetStringValue()
		if classID == "" {
			continue
		}

		ev := repository.Evidence{
			ChunkID: point.Id.GetUuid(),
			Excerpt: truncateExcerpt(payload["content"].GetStringValue()),
		}

		cand, ok := byClass[classID]
		if !ok {
			byClass[classID] = &Candidate{
				ClassID:  classID,
				Label:    payload["label"].GetStringValue(),
				Score:    float64(point.Score),
				Evidence: []repository.Evidence{ev},
			}
			order = append(order, classID)
			continue
		}

		cand.Evidence = append(cand.Evidence, ev)
		if float64(point.Score) > cand.Score {
			cand.Score = float64(point.Score)
		}
	}

	candidates := make([]Candidate, 0, len(order))
	for _, classID := range order {
		candidates = append(candidates, *byClass[classID])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}
	return candidates
}

// truncateExcerpt caps an excerpt at excerptMaxLen bytes without
// splitting a multi-byte rune; excerpts end up JSON-encoded in the
// stored decision and must stay valid UTF-8.
func truncateExcerpt(s string) string {
	if len(s) <= excerptMaxLen {
		return s
	}
	cut := excerptMaxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Ensure QdrantRetriever implements Retriever
var _ Retriever = (*QdrantRetriever)(nil)
