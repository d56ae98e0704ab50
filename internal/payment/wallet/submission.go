package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"eventtix/internal/logger"

	"github.com/go-redis/redis/v8"
)

// Submission is what the buyer's browser reports after asking its wallet to
// send a transfer: the transaction hash, or the error the wallet returned.
type Submission struct {
	AttemptID    string `json:"attemptId"`
	TxHash       string `json:"txHash,omitempty"`
	ErrorCode    int    `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Submitter routes a submission to the attempt waiting for it.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) error
}

var ErrNotWaiting = errors.New("no attempt is waiting for a wallet transaction")

// Submissions tracks the in-process attempts waiting for their buyer to sign.
type Submissions struct {
	mu      sync.Mutex
	waiting map[string]chan Submission
}

func NewSubmissions() *Submissions {
	return &Submissions{waiting: make(map[string]chan Submission)}
}

func (s *Submissions) Register(attemptID string) <-chan Submission {
	ch := make(chan Submission, 1)
	s.mu.Lock()
	s.waiting[attemptID] = ch
	s.mu.Unlock()
	return ch
}

func (s *Submissions) Forget(attemptID string) {
	s.mu.Lock()
	delete(s.waiting, attemptID)
	s.mu.Unlock()
}

// Deliver hands sub to its attempt and reports whether one is waiting here.
// The first submission wins; later ones are dropped.
func (s *Submissions) Deliver(sub Submission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiting[sub.AttemptID]
	if !ok {
		return false
	}
	select {
	case ch <- sub:
	default:
	}
	return true
}

func (s *Submissions) Submit(ctx context.Context, sub Submission) error {
	if !s.Deliver(sub) {
		return fmt.Errorf("%w: %s", ErrNotWaiting, sub.AttemptID)
	}
	return nil
}

const submissionChannel = "wallet:submissions"

// RedisSubmissions publishes submissions to every instance; the one running
// the attempt picks it up.
type RedisSubmissions struct {
	client *redis.Client
	local  *Submissions
	logger *logger.Logger
}

func NewRedisSubmissions(client *redis.Client, local *Submissions, log *logger.Logger) *RedisSubmissions {
	return &RedisSubmissions{client: client, local: local, logger: log}
}

func (b *RedisSubmissions) Submit(ctx context.Context, sub Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, submissionChannel, payload).Err()
}

// Run delivers published submissions to local attempts until ctx is done.
func (b *RedisSubmissions) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, submissionChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", submissionChannel, err)
	}
	b.logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", submissionChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var s Submission
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				b.logger.Warn("WALLET", fmt.Sprintf("Dropping malformed submission: %v", err))
				continue
			}
			if b.local.Deliver(s) {
				b.logger.Debug("WALLET", fmt.Sprintf("Delivered submission for attempt %s", s.AttemptID))
			}
		}
	}
}
