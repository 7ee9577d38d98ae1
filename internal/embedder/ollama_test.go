package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newEmbedServer returns a fake Ollama endpoint that embeds text as a
// two-dimensional vector derived from its length.
func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		n := float64(len(req.Prompt))
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{n, n * 2}})
	}))
}

func TestEmbed(t *testing.T) {
	server := newEmbedServer(t)
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Model: "test-embed", Dimension: 2})
	if e.ModelName() != "test-embed" {
		t.Errorf("ModelName() = %q, want test-embed", e.ModelName())
	}

	vec, err := e.Embed(context.Background(), "abcd")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("got %d dimensions, want 2", len(vec))
	}
	if vec[0] != 4 || vec[1] != 8 {
		t.Errorf("vector = %v, want [4 8]", vec)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	server := newEmbedServer(t)
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Dimension: 2, BatchConcurrency: 3})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) {
			t.Errorf("vector %d = %v, out of order for %q", i, vectors[i], text)
		}
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{BaseURL: "http://unused"})

	vectors, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("got %d vectors, want 0", len(vectors))
	}
}

func TestEmbedServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})

	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
