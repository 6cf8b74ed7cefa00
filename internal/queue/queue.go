// Package queue carries job messages over a Redis Stream. Messages are
// minimal pointers; workers re-fetch full job state from the durable store.
package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	TaskAnalyze = "analyze"
	TaskFix     = "fix"
	TaskSweep   = "sweep"
)

type Message struct {
	Type       string `json:"type"`
	JobID      string `json:"jobId,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
	OwnerID    string `json:"ownerId,omitempty"`
}

type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, msg Message) error {
	if p.client == nil {
		return fmt.Errorf("queue not configured")
	}

	values := map[string]any{"type": msg.Type}
	if msg.JobID != "" {
		values["jobId"] = msg.JobID
	}
	if msg.ResourceID != "" {
		values["resourceId"] = msg.ResourceID
	}
	if msg.OwnerID != "" {
		values["ownerId"] = msg.OwnerID
	}

	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	return err
}
