package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"history-quiz-engine/internal/domain"
)

const defaultOutboxKey = "quiz:notifications"

// Notifier enqueues completion events onto a Redis list consumed by the
// parent-notification pipeline. The engine treats dispatch as best effort;
// delivery retries are the consumer's policy, not ours.
type Notifier struct {
	client *redis.Client
	key    string
}

func NewNotifier(client *redis.Client, key string) *Notifier {
	if key == "" {
		key = defaultOutboxKey
	}
	return &Notifier{client: client, key: key}
}

type completionEvent struct {
	Type       string                   `json:"type"`
	EnqueuedAt time.Time                `json:"enqueuedAt"`
	Payload    domain.CompletionSummary `json:"payload"`
}

func (n *Notifier) NotifyTestCompletion(ctx context.Context, summary domain.CompletionSummary) error {
	data, err := json.Marshal(completionEvent{
		Type:       "test_completion",
		EnqueuedAt: time.Now().UTC(),
		Payload:    summary,
	})
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	if err := n.client.RPush(ctx, n.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue completion event: %w", err)
	}
	return nil
}
