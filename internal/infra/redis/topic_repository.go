package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"history-quiz-engine/internal/app"
	"history-quiz-engine/internal/domain"
)

const topicsKey = "quiz:topics"

// TopicRepository caches the topic catalog in Redis so multiple bot
// processes share one cached listing. Misses fall back to the data store
// behind a single flight per process.
type TopicRepository struct {
	client *redis.Client
	store  app.DataStore
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewTopicRepository(client *redis.Client, store app.DataStore, ttl time.Duration) *TopicRepository {
	return &TopicRepository{
		client: client,
		store:  store,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TopicRepository) Topics(ctx context.Context) ([]domain.Topic, error) {
	if topics, ok := r.cached(ctx); ok {
		return topics, nil
	}

	result, err, _ := r.sf.Do(topicsKey, func() (interface{}, error) {
		// Re-check in case another flight filled the key.
		if topics, ok := r.cached(ctx); ok {
			return topics, nil
		}

		topics, err := r.store.Topics(ctx)
		if err != nil {
			return nil, err
		}

		if data, err := json.Marshal(topics); err == nil {
			// Best effort: a failed cache write only costs the next reader
			// another database round trip.
			_ = r.client.Set(ctx, topicsKey, data, r.ttlWithJitter()).Err()
		}
		return topics, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Topic), nil
}

func (r *TopicRepository) cached(ctx context.Context) ([]domain.Topic, bool) {
	data, err := r.client.Get(ctx, topicsKey).Bytes()
	if err != nil {
		return nil, false
	}
	var topics []domain.Topic
	if err := json.Unmarshal(data, &topics); err != nil {
		return nil, false
	}
	return topics, true
}

// Invalidate drops the cached listing.
func (r *TopicRepository) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, topicsKey).Err(); err != nil {
		return fmt.Errorf("invalidate topics cache: %w", err)
	}
	return nil
}

func (r *TopicRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	if jitterMax == 0 {
		return r.ttl
	}
	r.rndMu.Lock()
	j := r.rnd.Int63n(jitterMax + 1)
	r.rndMu.Unlock()
	return r.ttl + time.Duration(j)
}
