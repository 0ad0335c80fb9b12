package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher broadcasts proof events over Redis pub/sub. Listeners
// subscribe per workspace; proofs without a workspace go to a global channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// NewRedisPublisherWithClient wraps an existing client (tests).
func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Channel returns the pub/sub channel for a workspace.
func Channel(workspaceID string) string {
	if workspaceID == "" {
		return "proofs:global"
	}
	return "proofs:workspace:" + workspaceID
}

func (p *RedisPublisher) PublishProofRecorded(ctx context.Context, ev ProofRecorded) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal proof broadcast: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(ev.WorkspaceID), payload).Err(); err != nil {
		return fmt.Errorf("publish proof broadcast: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Ping checks if Redis is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
