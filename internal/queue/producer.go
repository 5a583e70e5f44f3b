package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Producer appends messages to a Redis stream.
type Producer struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{
		client: client,
		stream: stream,
		maxLen: 100_000,
	}
}

// Enqueue adds one message and returns its stream id.
func (p *Producer) Enqueue(ctx context.Context, values map[string]any) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("enqueue: task stream disabled")
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}
