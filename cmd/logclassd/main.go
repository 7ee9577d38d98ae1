// Command logclassd runs the log classification service: an HTTP API
// and an optional Redis queue consumer in front of the
// retrieve/rerank/decide/record pipeline.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knoguchi/logclass/internal/auth"
	"github.com/knoguchi/logclass/internal/config"
	"github.com/knoguchi/logclass/internal/decision"
	"github.com/knoguchi/logclass/internal/embedder"
	"github.com/knoguchi/logclass/internal/pipeline"
	"github.com/knoguchi/logclass/internal/queue"
	"github.com/knoguchi/logclass/internal/recorder"
	"github.com/knoguchi/logclass/internal/repository"
	"github.com/knoguchi/logclass/internal/repository/memory"
	"github.com/knoguchi/logclass/internal/repository/postgres"
	"github.com/knoguchi/logclass/internal/reranker"
	"github.com/knoguchi/logclass/internal/retriever"
	"github.com/knoguchi/logclass/internal/scorer"
	"github.com/knoguchi/logclass/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting logclassd",
		"environment", cfg.Environment,
		"http_port", cfg.HTTPPort,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Decision store. "memory" keeps everything in-process, for local
	// runs without Postgres.
	var repo repository.DecisionRepository
	if cfg.DatabaseURL == "memory" {
		logger.Warn("using in-memory decision store, decisions are not persisted")
		repo = memory.NewDecisionRepo()
	} else {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		repo = postgres.NewDecisionRepo(db)
	}

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})

	qdrantRetriever, err := retriever.NewQdrantRetriever(cfg.QdrantGRPCURL, embed, retriever.QdrantConfig{
		Collection: cfg.QdrantCollection,
		TopK:       cfg.TopK,
		Timeout:    cfg.RetrieveTimeout,
	})
	if err != nil {
		logger.Error("failed to create qdrant retriever", "error", err)
		os.Exit(1)
	}
	ret := retriever.NewRetrying(qdrantRetriever, cfg.RetrieveRetries, cfg.RetrieveBackoff)

	pairScorer := scorer.NewOllamaScorer(
		scorer.WithBaseURL(cfg.OllamaURL),
		scorer.WithModel(cfg.OllamaScoringModel),
	)
	logger.Info("ollama backends configured",
		"embedding_model", embed.ModelName(),
		"scoring_model", pairScorer.ModelName(),
	)
	rer := reranker.NewScorerReranker(pairScorer,
		reranker.WithConcurrency(cfg.RerankConcurrency),
		reranker.WithTimeout(cfg.RerankTimeout),
		reranker.WithLogger(logger),
	)

	engine := decision.NewEngine(decision.Thresholds{
		MinScore:         cfg.MinScore,
		Margin:           cfg.Margin,
		AmbiguityPenalty: cfg.AmbiguityPenalty,
	})

	rec := recorder.New(repo, logger)

	p := pipeline.New(ret, rer, engine, rec, pipeline.Config{
		RecordDeadline: cfg.RecordDeadline,
		MaxInflight:    cfg.MaxInflight,
		AdmissionWait:  cfg.AdmissionWait,
	}, logger)

	jwtManager := auth.NewJWTManager(auth.DefaultJWTConfig(cfg.JWTSecret))

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:       cfg.HTTPPort,
		Logger:     logger,
		APIKey:     cfg.APIKey,
		JWTManager: jwtManager,
	}, p)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	// Queue consumer is optional; without Redis the service is
	// HTTP-only.
	if cfg.RedisAddr != "" {
		consumer, err := queue.NewConsumer(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisLogQueue, p, logger)
		if err != nil {
			logger.Error("failed to start queue consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("queue consumer failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	logger.Info("logclassd stopped")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
