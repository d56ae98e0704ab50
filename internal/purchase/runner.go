package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/payment"
)

var (
	ErrAttemptNotFound = errors.New("purchase attempt not found")
	ErrShuttingDown    = errors.New("purchases are not accepted while shutting down")
)

// AttemptStore keeps attempt snapshots so callers can follow an attempt that
// runs in the background.
type AttemptStore interface {
	Save(ctx context.Context, attempt models.PurchaseAttempt) error
	Get(ctx context.Context, attemptID string) (*models.PurchaseAttempt, error)
	// ClaimIdempotencyKey binds key to attemptID for userID unless it is
	// already bound, in which case it returns the existing attempt id.
	ClaimIdempotencyKey(ctx context.Context, userID, key, attemptID string) (existing string, claimed bool, err error)
	// ReleaseIdempotencyKey unbinds key if it is still bound to attemptID.
	ReleaseIdempotencyKey(ctx context.Context, userID, key, attemptID string) error
}

// StoreObserver persists every transition into store.
func StoreObserver(store AttemptStore, log *logger.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, t models.AttemptTransition) {
		if err := store.Save(ctx, t.Attempt); err != nil {
			log.Error("PURCHASE", fmt.Sprintf("Failed to save attempt %s in state %s: %v", t.Attempt.ID, t.To, err))
		}
	})
}

// StartRequest is a purchase submitted over HTTP.
type StartRequest struct {
	UserID         string
	Method         string
	IdempotencyKey string
	Selection      models.TicketSelection
	Contact        payment.Contact
}

// Runner executes attempts in the background so callers get an attempt id
// right away and follow it through the store or the event stream.
type Runner struct {
	orchestrator *Orchestrator
	methods      *payment.Registry
	store        AttemptStore
	logger       *logger.Logger

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewRunner(o *Orchestrator, methods *payment.Registry, store AttemptStore, log *logger.Logger) *Runner {
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		orchestrator: o,
		methods:      methods,
		store:        store,
		logger:       log,
		base:         base,
		cancel:       cancel,
	}
}

// Start validates and quotes req synchronously, then executes it in the
// background. When req carries an idempotency key already used by the same
// user, the earlier attempt is returned with duplicate set and nothing new
// is started. A key claimed by an attempt that then fails to start is
// released so the buyer can retry with it.
func (r *Runner) Start(ctx context.Context, req StartRequest) (attempt models.PurchaseAttempt, duplicate bool, err error) {
	// Reserve a slot before anything is claimed, so a draining runner never
	// leaves a key bound to an attempt that does not exist.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.PurchaseAttempt{}, false, ErrShuttingDown
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	launched := false
	defer func() {
		if !launched {
			r.inflight.Done()
		}
	}()

	strategy, err := r.methods.Get(req.Method)
	if err != nil {
		return models.PurchaseAttempt{}, false, invalidSelection("%v", err)
	}

	a, err := r.orchestrator.Begin(ctx, Request{
		UserID:         req.UserID,
		Selection:      req.Selection,
		Strategy:       strategy,
		Contact:        req.Contact,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return models.PurchaseAttempt{}, false, err
	}

	if req.IdempotencyKey != "" {
		existingID, claimed, err := r.store.ClaimIdempotencyKey(ctx, req.UserID, req.IdempotencyKey, a.ID())
		if err != nil {
			return models.PurchaseAttempt{}, false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if !claimed {
			existing, err := r.store.Get(ctx, existingID)
			if err != nil {
				return models.PurchaseAttempt{}, false, &Error{
					Kind:    KindDuplicateAttempt,
					Message: fmt.Sprintf("idempotency key already used by attempt %s", existingID),
					Err:     err,
				}
			}
			r.logger.LogPurchase("DUPLICATE", existing.ID, fmt.Sprintf("idempotency key %q reused by %s", req.IdempotencyKey, req.UserID))
			return *existing, true, nil
		}
	}

	snapshot := a.Snapshot()
	if err := r.store.Save(ctx, snapshot); err != nil {
		r.releaseKey(ctx, req, a.ID())
		return models.PurchaseAttempt{}, false, fmt.Errorf("save attempt: %w", err)
	}

	launched = true
	go func() {
		defer r.inflight.Done()
		ticket, err := r.orchestrator.Execute(r.base, a)
		if err != nil {
			r.logger.LogPurchase(string(KindOf(err)), a.ID(), err.Error())
			return
		}
		r.logger.LogPurchase("DONE", a.ID(), fmt.Sprintf("ticket %s", ticket.ID))
	}()

	r.logger.LogPurchase("STARTED", snapshot.ID, fmt.Sprintf("%s: %d x %s for event %s, %s %s via %s",
		req.UserID, req.Selection.Quantity, req.Selection.Type, req.Selection.EventID, snapshot.TotalPrice, snapshot.Currency, req.Method))
	return snapshot, false, nil
}

func (r *Runner) releaseKey(ctx context.Context, req StartRequest, attemptID string) {
	if req.IdempotencyKey == "" {
		return
	}
	if err := r.store.ReleaseIdempotencyKey(context.WithoutCancel(ctx), req.UserID, req.IdempotencyKey, attemptID); err != nil {
		r.logger.Warn("PURCHASE", fmt.Sprintf("Failed to release idempotency key %q of %s: %v", req.IdempotencyKey, req.UserID, err))
	}
}

// Get returns an attempt owned by userID.
func (r *Runner) Get(ctx context.Context, userID, attemptID string) (*models.PurchaseAttempt, error) {
	attempt, err := r.store.Get(ctx, attemptID)
	if errors.Is(err, ErrAttemptNotFound) {
		return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("attempt %s not found", attemptID), Err: err}
	}
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, &Error{Kind: KindAccessDenied, Message: fmt.Sprintf("attempt %s belongs to another user", attemptID)}
	}
	return attempt, nil
}

// Shutdown stops accepting attempts and waits for running ones. Attempts
// still running when ctx ends are cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.logger.Warn("PURCHASE", "Cancelling purchases still waiting on payment")
		r.cancel()
		<-done
		return ctx.Err()
	}
}
