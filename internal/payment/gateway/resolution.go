package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventtix/internal/logger"

	"github.com/go-redis/redis/v8"
)

type Outcome string

const (
	OutcomePaid Outcome = "paid"
	// OutcomeDismissed means the buyer left the hosted page; the session may
	// still be open at the gateway.
	OutcomeDismissed Outcome = "dismissed"
	OutcomeExpired   Outcome = "expired"
	OutcomeFailed    Outcome = "failed"
)

// Resolution is what the gateway tells us about a checkout session.
type Resolution struct {
	SessionID        string  `json:"sessionId"`
	Outcome          Outcome `json:"outcome"`
	PaymentReference string  `json:"paymentReference,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

// Resolver routes a resolution to the attempt waiting on that session.
type Resolver interface {
	Resolve(ctx context.Context, res Resolution) error
}

var ErrNoWaiter = errors.New("no attempt is waiting on this checkout session")

// Waiters tracks the in-process attempts suspended on a checkout session.
type Waiters struct {
	mu      sync.Mutex
	waiting map[string]chan Resolution
}

func NewWaiters() *Waiters {
	return &Waiters{waiting: make(map[string]chan Resolution)}
}

// Register must be called before the buyer can reach the hosted page.
func (w *Waiters) Register(sessionID string) <-chan Resolution {
	ch := make(chan Resolution, 1)
	w.mu.Lock()
	w.waiting[sessionID] = ch
	w.mu.Unlock()
	return ch
}

func (w *Waiters) Forget(sessionID string) {
	w.mu.Lock()
	delete(w.waiting, sessionID)
	w.mu.Unlock()
}

// Deliver hands res to its waiter without blocking and reports whether one
// was registered here. A waiter holds one pending resolution; a paid
// resolution displaces whatever is pending, anything else yields to it.
func (w *Waiters) Deliver(res Resolution) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.waiting[res.SessionID]
	if !ok {
		return false
	}
	for {
		select {
		case ch <- res:
			return true
		default:
		}
		if res.Outcome != OutcomePaid {
			return true
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (w *Waiters) Resolve(ctx context.Context, res Resolution) error {
	if !w.Deliver(res) {
		return fmt.Errorf("%w: %s", ErrNoWaiter, res.SessionID)
	}
	return nil
}

const (
	resolutionChannel = "gateway:resolutions"
	// deliveredKeyPrefix marks sessions whose paid resolution reached an
	// attempt on some replica.
	deliveredKeyPrefix = "gateway:delivered:"
	deliveredTTL       = 24 * time.Hour
	defaultAckTimeout  = 2 * time.Second
	ackPollInterval    = 25 * time.Millisecond
)

// RedisBus fans resolutions out to every instance, since the webhook may land
// on a different replica than the one holding the attempt. Paid resolutions
// are acknowledged by the replica that delivered them; Resolve reports
// ErrNoWaiter when no replica does within AckTimeout.
type RedisBus struct {
	client     *redis.Client
	local      *Waiters
	logger     *logger.Logger
	AckTimeout time.Duration
}

func NewRedisBus(client *redis.Client, local *Waiters, log *logger.Logger) *RedisBus {
	return &RedisBus{client: client, local: local, logger: log, AckTimeout: defaultAckTimeout}
}

func (b *RedisBus) Resolve(ctx context.Context, res Resolution) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	key := deliveredKeyPrefix + res.SessionID
	if res.Outcome == OutcomePaid {
		delivered, err := b.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if delivered > 0 {
			// gateway redelivery of a payment an attempt already has
			return nil
		}
	}
	if err := b.client.Publish(ctx, resolutionChannel, payload).Err(); err != nil {
		return err
	}
	if res.Outcome != OutcomePaid {
		return nil
	}

	deadline := time.NewTimer(b.AckTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(ackPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrNoWaiter, res.SessionID)
		case <-tick.C:
			n, err := b.client.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}
	}
}

// Run delivers published resolutions to local waiters until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, resolutionChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", resolutionChannel, err)
	}
	b.logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", resolutionChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var res Resolution
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				b.logger.Warn("GATEWAY", fmt.Sprintf("Dropping malformed resolution: %v", err))
				continue
			}
			if !b.local.Deliver(res) {
				continue
			}
			b.logger.Debug("GATEWAY", fmt.Sprintf("Delivered %s for session %s", res.Outcome, res.SessionID))
			if res.Outcome == OutcomePaid {
				if err := b.client.Set(ctx, deliveredKeyPrefix+res.SessionID, "1", deliveredTTL).Err(); err != nil {
					b.logger.Warn("GATEWAY", fmt.Sprintf("Failed to acknowledge payment for session %s: %v", res.SessionID, err))
				}
			}
		}
	}
}
