package retriever

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// TaxonomyChunk is one unit of taxonomy reference text to index.
// SourceType restricts which log sources the chunk's class is offered
// for; use "any" for unrestricted chunks.
type TaxonomyChunk struct {
	ID         string `json:"id"`
	ClassID    string `json:"class_id"`
	Label      string `json:"label"`
	SourceType string `json:"source_type"`
	Content    string `json:"content"`

	Vector []float32 `json:"-"`
}

// EnsureCollection creates the taxonomy collection if it does not exist.
func (r *QdrantRetriever) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// UpsertChunks inserts or updates taxonomy chunks in the collection.
func (r *QdrantRetriever) UpsertChunks(ctx context.Context, chunks []TaxonomyChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		sourceType := chunk.SourceType
		if sourceType == "" {
			sourceType = sourceTypeAny
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: map[string]*qdrant.Value{
				"class_id":    qdrant.NewValueString(chunk.ClassID),
				"label":       qdrant.NewValueString(chunk.Label),
				"source_type": qdrant.NewValueString(sourceType),
				"content":     qdrant.NewValueString(chunk.Content),
			},
		}
	}

	_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}
