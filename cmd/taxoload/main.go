// Command taxoload seeds the qdrant taxonomy collection from a JSONL
// file of taxonomy chunks. Each line is one chunk:
//
//	{"id":"...","class_id":"auth.login_success","label":"Login Success","source_type":"windows_event_log","content":"..."}
//
// Chunks without an id get a deterministic one derived from class_id
// and content, so reloading the same file is idempotent.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/knoguchi/logclass/internal/config"
	"github.com/knoguchi/logclass/internal/embedder"
	"github.com/knoguchi/logclass/internal/retriever"
)

const embedBatchSize = 64

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "path to taxonomy chunks JSONL file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: taxoload -file chunks.jsonl")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	chunks, err := readChunks(filePath)
	if err != nil {
		logger.Error("failed to read chunks", "file", filePath, "error", err)
		os.Exit(1)
	}
	if len(chunks) == 0 {
		logger.Warn("no chunks found, nothing to do", "file", filePath)
		return
	}
	logger.Info("loaded taxonomy chunks", "file", filePath, "count", len(chunks))

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})

	ret, err := retriever.NewQdrantRetriever(cfg.QdrantGRPCURL, embed, retriever.QdrantConfig{
		Collection: cfg.QdrantCollection,
		TopK:       cfg.TopK,
		Timeout:    cfg.RetrieveTimeout,
	})
	if err != nil {
		logger.Error("failed to create qdrant client", "error", err)
		os.Exit(1)
	}

	if err := ret.EnsureCollection(ctx, embed.Dimension()); err != nil {
		logger.Error("failed to ensure collection", "error", err)
		os.Exit(1)
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Label + "\n" + c.Content
		}

		vectors, err := embed.EmbedBatch(ctx, texts)
		if err != nil {
			logger.Error("failed to embed chunks", "offset", start, "error", err)
			os.Exit(1)
		}
		for i := range batch {
			batch[i].Vector = vectors[i]
		}

		if err := ret.UpsertChunks(ctx, batch); err != nil {
			logger.Error("failed to upsert chunks", "offset", start, "error", err)
			os.Exit(1)
		}
		logger.Info("upserted batch", "offset", start, "count", len(batch))
	}

	logger.Info("taxonomy load complete", "chunks", len(chunks))
}

func readChunks(path string) ([]retriever.TaxonomyChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var chunks []retriever.TaxonomyChunk

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var chunk retriever.TaxonomyChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return nil, fmt.Errorf("line %d: invalid chunk: %w", line, err)
		}
		if chunk.ClassID == "" || chunk.Content == "" {
			return nil, fmt.Errorf("line %d: class_id and content are required", line)
		}
		if chunk.ID == "" {
			chunk.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunk.ClassID+"\n"+chunk.Content)).String()
		}
		chunks = append(chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return chunks, nil
}
