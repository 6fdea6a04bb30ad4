package memory

import (
	"context"
	"time"

	"history-quiz-engine/internal/app"
	"history-quiz-engine/internal/cache"
	"history-quiz-engine/internal/domain"
)

const topicsKey = "topics:all"

// TopicRepository serves topic listings through the in-process TTL cache so
// request bursts hit the database once per expiry.
type TopicRepository struct {
	store app.DataStore
	cache *cache.Cache[[]domain.Topic]
	ttl   time.Duration
}

func NewTopicRepository(store app.DataStore, ttl time.Duration) *TopicRepository {
	return &TopicRepository{
		store: store,
		cache: cache.New[[]domain.Topic](ttl),
		ttl:   ttl,
	}
}

func (r *TopicRepository) Topics(ctx context.Context) ([]domain.Topic, error) {
	return r.cache.GetOrSet(ctx, topicsKey, r.ttl, func(ctx context.Context) ([]domain.Topic, error) {
		return r.store.Topics(ctx)
	})
}

// Sweep runs the cache's background expiry loop until ctx is canceled.
func (r *TopicRepository) Sweep(ctx context.Context, interval time.Duration) {
	r.cache.Sweep(ctx, interval)
}

// Invalidate drops the cached listing, for content-management paths that
// change topics and want the next read fresh.
func (r *TopicRepository) Invalidate() {
	r.cache.Invalidate(topicsKey)
}
