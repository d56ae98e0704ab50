// Package catalog serves event metadata: titles, capacity, receiver wallet
// and the price table purchases are quoted from.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventtix/internal/logger"
	"eventtix/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"
)

var ErrEventNotFound = errors.New("event not found")

type Provider interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
}

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Order("starts_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// CreateEvent inserts an event. Used by seeding and tests; event CRUD is
// owned by the organizer service.
func (d *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	return err
}

const eventKeyPrefix = "event:"

// CachedProvider keeps single events in Redis for a short while. Redis
// failures fall through to the wrapped provider.
type CachedProvider struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedProvider {
	return &CachedProvider{next: next, client: client, ttl: ttl, logger: log}
}

func (c *CachedProvider) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	key := eventKeyPrefix + eventID
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var event models.Event
		if jerr := json.Unmarshal(raw, &event); jerr == nil {
			return &event, nil
		}
		c.logger.Warn("CATALOG", fmt.Sprintf("Discarding unreadable cache entry %s", key))
	case err != redis.Nil:
		c.logger.Warn("CATALOG", fmt.Sprintf("Event cache unavailable: %v", err))
	}

	event, err := c.next.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(event); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("CATALOG", fmt.Sprintf("Failed to cache event %s: %v", eventID, err))
		}
	}
	return event, nil
}

func (c *CachedProvider) ListEvents(ctx context.Context) ([]models.Event, error) {
	return c.next.ListEvents(ctx)
}

// Invalidate drops the cached copy of an event, e.g. after tickets sold.
func (c *CachedProvider) Invalidate(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, eventKeyPrefix+eventID).Err()
}
