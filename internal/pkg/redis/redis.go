package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/pkg/config"
)

type Client struct {
	*redis.Client
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr()).Msg("Redis connected successfully")

	return &Client{client}, nil
}

const planInvalidationChannel = "flowline:plans:invalidate"

// PublishPlanInvalidation tells every replica to drop cached plans for a
// workflow after a publish.
func (c *Client) PublishPlanInvalidation(ctx context.Context, workflowID string) error {
	return c.Publish(ctx, planInvalidationChannel, workflowID).Err()
}

// SubscribePlanInvalidations delivers workflow ids whose plans must be
// dropped. Blocks until ctx is done.
func (c *Client) SubscribePlanInvalidations(ctx context.Context, handle func(workflowID string)) error {
	sub := c.Subscribe(ctx, planInvalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle(msg.Payload)
		}
	}
}

func executionChannel(executionID string) string {
	return "flowline:executions:" + executionID + ":events"
}

// PublishExecutionEvent fans an execution event out to live subscribers
// (the websocket feed). Best effort.
func (c *Client) PublishExecutionEvent(ctx context.Context, executionID string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.Publish(ctx, executionChannel(executionID), data).Err()
}

// SubscribeExecutionEvents streams raw event payloads for one execution.
func (c *Client) SubscribeExecutionEvents(ctx context.Context, executionID string) *redis.PubSub {
	return c.Subscribe(ctx, executionChannel(executionID))
}

// AcquireLock takes a best-effort distributed lock, used by the stale
// execution reaper so only one replica sweeps at a time.
func (c *Client) AcquireLock(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) ReleaseLock(ctx context.Context, key string, value string) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	return script.Run(ctx, c.Client, []string{key}, value).Err()
}
