// Package queue drains normalized log records from a Redis list into
// the classification pipeline.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/knoguchi/logclass/internal/metrics"
	"github.com/knoguchi/logclass/internal/pipeline"
	"github.com/knoguchi/logclass/internal/repository"
)

const (
	popTimeout    = 5 * time.Second
	depthInterval = 10 * time.Second
)

// Consumer pops records off a Redis list and classifies them.
type Consumer struct {
	client   *redis.Client
	pipeline *pipeline.Pipeline
	queue    string
	logger   *slog.Logger
}

// NewConsumer connects to Redis and verifies the connection.
func NewConsumer(ctx context.Context, addr string, db int, queueName string, p *pipeline.Pipeline, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Consumer{
		client:   client,
		pipeline: p,
		queue:    queueName,
		logger:   logger,
	}, nil
}

// Run blocks, consuming records until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("queue consumer started", "queue", c.queue)

	go c.trackDepth(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("queue consumer stopping")
			return ctx.Err()
		default:
		}

		res, err := c.client.BRPop(ctx, popTimeout, c.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // queue empty, poll again
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("queue pop failed", "error", err)
			metrics.PipelineErrors.WithLabelValues("queue").Inc()
			time.Sleep(time.Second)
			continue
		}

		// BRPop returns [key, value].
		if len(res) < 2 {
			continue
		}
		c.process(ctx, []byte(res[1]))
	}
}

func (c *Consumer) process(ctx context.Context, payload []byte) {
	var rec repository.NormalizedRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		c.logger.Warn("dropping malformed queue record", "error", err)
		metrics.PipelineErrors.WithLabelValues("queue_decode").Inc()
		return
	}
	if rec.Text == "" {
		c.logger.Warn("dropping queue record without text", "source_id", rec.SourceID)
		return
	}

	d, err := c.pipeline.Classify(ctx, &rec)
	switch {
	case err == nil:
		c.logger.Debug("queued record classified",
			"source_id", rec.SourceID, "class_id", d.AuthoritativeClass())
	case errors.Is(err, pipeline.ErrTimeout) && d != nil:
		c.logger.Warn("queued record classified degraded", "source_id", rec.SourceID)
	case errors.Is(err, pipeline.ErrOverloaded):
		// Push back so the record is retried once load drops.
		if pushErr := c.client.LPush(ctx, c.queue, payload).Err(); pushErr != nil {
			c.logger.Error("failed to requeue record", "source_id", rec.SourceID, "error", pushErr)
		}
		time.Sleep(500 * time.Millisecond)
	default:
		c.logger.Error("queued record classification failed",
			"source_id", rec.SourceID, "error", err)
	}
}

// trackDepth samples the queue length for the depth gauge.
func (c *Consumer) trackDepth(ctx context.Context) {
	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := c.client.LLen(ctx, c.queue).Result()
			if err != nil {
				continue
			}
			metrics.QueueDepth.Set(float64(depth))
		}
	}
}

// Close releases the Redis connection.
func (c *Consumer) Close() error {
	return c.client.Close()
}
