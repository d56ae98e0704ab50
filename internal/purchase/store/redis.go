// Package store keeps purchase attempts where the HTTP layer can read them
// back while they run in the background.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventtix/internal/models"
	"eventtix/internal/purchase"

	"github.com/go-redis/redis/v8"
)

const (
	attemptKeyPrefix     = "purchase_attempt:"
	idempotencyKeyPrefix = "purchase_idem:"
)

// RedisStore keeps attempt snapshots as JSON with a TTL and binds
// idempotency keys with SETNX, the same way seats used to be locked.
type RedisStore struct {
	Client         *redis.Client
	AttemptTTL     time.Duration
	IdempotencyTTL time.Duration
}

func NewRedisStore(client *redis.Client, attemptTTL, idempotencyTTL time.Duration) *RedisStore {
	return &RedisStore{Client: client, AttemptTTL: attemptTTL, IdempotencyTTL: idempotencyTTL}
}

func (s *RedisStore) Save(ctx context.Context, attempt models.PurchaseAttempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt %s: %w", attempt.ID, err)
	}
	return s.Client.Set(ctx, attemptKeyPrefix+attempt.ID, payload, s.AttemptTTL).Err()
}

func (s *RedisStore) Get(ctx context.Context, attemptID string) (*models.PurchaseAttempt, error) {
	raw, err := s.Client.Get(ctx, attemptKeyPrefix+attemptID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", purchase.ErrAttemptNotFound, attemptID)
	}
	if err != nil {
		return nil, err
	}
	var attempt models.PurchaseAttempt
	if err := json.Unmarshal(raw, &attempt); err != nil {
		return nil, fmt.Errorf("decode attempt %s: %w", attemptID, err)
	}
	return &attempt, nil
}

func (s *RedisStore) ClaimIdempotencyKey(ctx context.Context, userID, key, attemptID string) (string, bool, error) {
	k := idempotencyKeyPrefix + userID + ":" + key
	ok, err := s.Client.SetNX(ctx, k, attemptID, s.IdempotencyTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return attemptID, true, nil
	}
	existing, err := s.Client.Get(ctx, k).Result()
	if err == redis.Nil {
		// expired between SETNX and GET; try once more
		ok, err = s.Client.SetNX(ctx, k, attemptID, s.IdempotencyTTL).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return attemptID, true, nil
		}
		existing, err = s.Client.Get(ctx, k).Result()
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// releaseKey deletes an idempotency key only while it still names the
// attempt that claimed it.
var releaseKey = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) ReleaseIdempotencyKey(ctx context.Context, userID, key, attemptID string) error {
	return releaseKey.Run(ctx, s.Client, []string{idempotencyKeyPrefix + userID + ":" + key}, attemptID).Err()
}
