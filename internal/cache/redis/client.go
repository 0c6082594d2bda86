package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coherence-signal/backend/internal/metrics"
	"github.com/coherence-signal/backend/pkg/circuitbreaker"
	"github.com/coherence-signal/backend/pkg/logger"
	"github.com/coherence-signal/backend/pkg/utils"
)

// Client caches computed coherence results so repeated reads for an unchanged
// conversation skip the recompute. All calls go through a circuit breaker: a
// down Redis degrades to recomputing, it never fails the request.
type Client struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{
		client: client,
		breaker: circuitbreaker.New("redis-cache", circuitbreaker.Config{
			FailureThreshold: 3,
			OpenTimeout:      15 * time.Second,
			Logger:           logger.Log,
		}),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func coherenceKey(conversationID, windowSize string) string {
	return fmt.Sprintf("coherence:%s:%s", conversationID, utils.HashString(windowSize))
}

func (c *Client) SetCoherence(ctx context.Context, conversationID, windowSize string, result interface{}, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal coherence result: %w", err)
	}

	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, coherenceKey(conversationID, windowSize), data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set coherence cache: %w", err)
	}

	logger.Debug("Coherence result cached",
		zap.String("conversation_id", conversationID),
		zap.String("window_size", windowSize),
		zap.Duration("ttl", ttl),
	)
	return nil
}

func (c *Client) GetCoherence(ctx context.Context, conversationID, windowSize string, result interface{}) (bool, error) {
	var data []byte
	miss := false

	err := c.breaker.Execute(func() error {
		b, err := c.client.Get(ctx, coherenceKey(conversationID, windowSize)).Bytes()
		if errors.Is(err, redis.Nil) {
			// A miss is a healthy response, not a breaker failure.
			miss = true
			return nil
		}
		data = b
		return err
	})
	if err == nil && miss {
		metrics.CacheMisses.WithLabelValues("coherence").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get coherence cache: %w", err)
	}

	if err := json.Unmarshal(data, result); err != nil {
		return false, fmt.Errorf("failed to unmarshal coherence result: %w", err)
	}

	metrics.CacheHits.WithLabelValues("coherence").Inc()
	logger.Debug("Coherence cache hit", zap.String("conversation_id", conversationID))
	return true, nil
}

// InvalidateConversation drops every cached coherence result for the
// conversation, regardless of window size. Called on signal ingest.
func (c *Client) InvalidateConversation(ctx context.Context, conversationID string) error {
	return c.breaker.Execute(func() error {
		pattern := fmt.Sprintf("coherence:%s:*", conversationID)
		iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				logger.Warn("Failed to delete cache key", zap.Error(err))
			}
		}

		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to iterate cache keys: %w", err)
		}

		logger.Debug("Conversation cache invalidated", zap.String("conversation_id", conversationID))
		return nil
	})
}
