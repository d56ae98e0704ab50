// Package purchase drives one ticket purchase from selection to a durable
// ticket: quote the selection, collect payment through exactly one rail, then
// ask the ledger to record exactly one ticket.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"eventtix/internal/catalog"
	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/money"
	"eventtix/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog supplies event metadata and price tables.
type Catalog interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

// Ledger records issued tickets.
type Ledger interface {
	Create(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
}

type Options struct {
	Observer        Observer
	DefaultReceiver string
	// LedgerTimeout bounds the single ticket write after payment.
	LedgerTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

type Orchestrator struct {
	catalog         Catalog
	ledger          Ledger
	observer        Observer
	logger          *logger.Logger
	defaultReceiver string
	ledgerTimeout   time.Duration
	now             func() time.Time
	newID           func() string
}

func NewOrchestrator(cat Catalog, ledger Ledger, log *logger.Logger, opts Options) *Orchestrator {
	o := &Orchestrator{
		catalog:         cat,
		ledger:          ledger,
		observer:        opts.Observer,
		logger:          log,
		defaultReceiver: opts.DefaultReceiver,
		ledgerTimeout:   opts.LedgerTimeout,
		now:             opts.Now,
		newID:           opts.NewID,
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.ledgerTimeout <= 0 {
		o.ledgerTimeout = 10 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.New().String() }
	}
	return o
}

// Quote is the orchestrator's own statement of what a selection costs. The
// payment rail is never asked for the amount.
type Quote struct {
	Event       *models.Event
	Selection   models.TicketSelection
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	Currency    string
	Receiver    string
	Description string
}

// Quote validates a selection for userID and prices it. It has no side
// effects.
func (o *Orchestrator) Quote(ctx context.Context, userID string, sel models.TicketSelection) (*Quote, error) {
	if userID == "" {
		return nil, &Error{Kind: KindUnauthorized, State: models.AttemptIdle, Message: "purchase requires an authenticated user"}
	}
	if sel.Quantity < 1 {
		return nil, invalidSelection("quantity must be at least 1, got %d", sel.Quantity)
	}
	if !sel.Type.Valid() {
		return nil, invalidSelection("unknown ticket type %q", sel.Type)
	}
	if sel.EventID == "" {
		return nil, invalidSelection("eventId is required")
	}

	event, err := o.catalog.GetEvent(ctx, sel.EventID)
	if errors.Is(err, catalog.ErrEventNotFound) {
		return nil, invalidSelection("event %s does not exist", sel.EventID)
	}
	if err != nil {
		return nil, fmt.Errorf("look up event %s: %w", sel.EventID, err)
	}
	if event.Status == models.EventCompleted {
		return nil, invalidSelection("event %s has already ended", event.ID)
	}

	unit, offered := event.Prices.UnitPrice(sel.Type)
	if !offered {
		return nil, invalidSelection("event %s does not offer %s tickets", event.ID, sel.Type)
	}
	if left := event.Remaining(); left >= 0 && sel.Quantity > left {
		return nil, invalidSelection("only %d tickets left for event %s", left, event.ID)
	}

	total := money.Total(unit, sel.Quantity)
	if !total.IsPositive() {
		return nil, invalidSelection("%s tickets for event %s have no price to pay", sel.Type, event.ID)
	}

	receiver := event.OrganizerWallet
	if receiver == "" {
		receiver = o.defaultReceiver
	}

	return &Quote{
		Event:       event,
		Selection:   sel,
		UnitPrice:   unit,
		Total:       total,
		Currency:    event.Currency,
		Receiver:    receiver,
		Description: fmt.Sprintf("%s - %d x %s", event.Title, sel.Quantity, sel.Type),
	}, nil
}

// Request is one purchase as submitted by a buyer.
type Request struct {
	UserID         string
	Selection      models.TicketSelection
	Strategy       payment.Strategy
	Contact        payment.Contact
	IdempotencyKey string
}

// Attempt is a quoted purchase that has not been executed yet, or is running.
type Attempt struct {
	mu       sync.Mutex
	record   models.PurchaseAttempt
	quote    *Quote
	strategy payment.Strategy
	contact  payment.Contact
	started  atomic.Bool
}

func (a *Attempt) ID() string {
	return a.record.ID
}

// Snapshot returns a copy of the attempt's current record.
func (a *Attempt) Snapshot() models.PurchaseAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record
}

// Begin quotes the request and returns an Idle attempt.
func (o *Orchestrator) Begin(ctx context.Context, req Request) (*Attempt, error) {
	if req.Strategy == nil {
		return nil, invalidSelection("a payment method is required")
	}
	quote, err := o.Quote(ctx, req.UserID, req.Selection)
	if err != nil {
		return nil, err
	}
	now := o.now()
	return &Attempt{
		record: models.PurchaseAttempt{
			ID:             o.newID(),
			UserID:         req.UserID,
			Selection:      req.Selection,
			TotalPrice:     quote.Total,
			Currency:       quote.Currency,
			Method:         string(req.Strategy.Rail()),
			State:          models.AttemptIdle,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		quote:    quote,
		strategy: req.Strategy,
		contact:  req.Contact,
	}, nil
}

// Purchase runs a whole attempt and returns the ticket it created.
func (o *Orchestrator) Purchase(ctx context.Context, req Request) (*models.Ticket, error) {
	a, err := o.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, a)
}

// Execute collects payment for a through its strategy and, only once a proof
// is in hand, writes the ticket. Neither step is retried. An attempt can be
// executed once.
func (o *Orchestrator) Execute(ctx context.Context, a *Attempt) (*models.Ticket, error) {
	if !a.started.CompareAndSwap(false, true) {
		return nil, &Error{Kind: KindDuplicateAttempt, State: a.Snapshot().State, Message: fmt.Sprintf("attempt %s was already executed", a.ID())}
	}
	q := a.quote
	userID := a.Snapshot().UserID

	o.transition(ctx, a, models.AttemptAwaitingPayment, func(r *models.PurchaseAttempt) {
		r.PaymentRail = string(a.strategy.Rail())
		r.PaymentStartedAt = o.now()
	})
	o.logger.LogPurchase("PAYMENT", a.ID(), fmt.Sprintf("collecting %s %s via %s", q.Total, q.Currency, a.strategy.Rail()))

	proof, err := a.strategy.Attempt(ctx, payment.Charge{
		AttemptID:   a.ID(),
		Payer:       userID,
		Selection:   q.Selection,
		Amount:      q.Total,
		Currency:    q.Currency,
		Description: q.Description,
		Receiver:    q.Receiver,
		Contact:     a.contact,
		Notify:      func(act payment.Action) { o.progress(ctx, a, act) },
	})
	if err != nil {
		perr := paymentFailure(err)
		o.transition(ctx, a, models.AttemptFailed, func(r *models.PurchaseAttempt) {
			r.FailureKind = string(perr.Kind)
			r.FailureMessage = err.Error()
		})
		o.logger.Warn("PURCHASE", fmt.Sprintf("Attempt %s failed before any ticket was written: %s", a.ID(), perr))
		return nil, perr
	}

	o.transition(ctx, a, models.AttemptConfirmingLedger, func(r *models.PurchaseAttempt) {
		r.PaymentRail = string(proof.Rail)
		r.PaymentReference = proof.Reference
	})

	ticket := &models.Ticket{
		ID:               o.newID(),
		EventID:          q.Selection.EventID,
		UserID:           userID,
		Type:             q.Selection.Type,
		Quantity:         q.Selection.Quantity,
		TotalPrice:       q.Total,
		Status:           models.TicketActive,
		PurchasedAt:      o.now(),
		PaymentRail:      string(proof.Rail),
		PaymentReference: proof.Reference,
	}

	// Money has moved; the write must not be abandoned along with the caller.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.ledgerTimeout)
	created, err := o.ledger.Create(writeCtx, ticket)
	cancel()
	if err != nil {
		rec := &Reconciliation{
			AttemptID: a.ID(),
			UserID:    ticket.UserID,
			EventID:   ticket.EventID,
			Type:      ticket.Type,
			Quantity:  ticket.Quantity,
			Amount:    q.Total,
			Currency:  q.Currency,
			Proof:     proof,
		}
		perr := &Error{
			Kind:           KindLedgerWriteFailed,
			State:          models.AttemptUnrecorded,
			Message:        "payment was confirmed but the ticket could not be recorded; contact support for reconciliation",
			Reconciliation: rec,
			Err:            err,
		}
		o.logger.Error("PURCHASE", fmt.Sprintf("PAYMENT CONFIRMED BUT TICKET NOT RECORDED: %s: %v", rec, err))
		o.transition(ctx, a, models.AttemptUnrecorded, func(r *models.PurchaseAttempt) {
			r.FailureKind = string(perr.Kind)
			r.FailureMessage = err.Error()
		})
		return nil, perr
	}

	o.transition(ctx, a, models.AttemptCompleted, func(r *models.PurchaseAttempt) {
		r.TicketID = created.ID
	})
	o.logger.LogPurchase("COMPLETED", a.ID(), fmt.Sprintf("ticket %s issued to %s", created.ID, created.UserID))
	return created, nil
}

// progress records what a rail reported while payment is still pending.
func (o *Orchestrator) progress(ctx context.Context, a *Attempt, act payment.Action) {
	o.transition(ctx, a, models.AttemptAwaitingPayment, func(r *models.PurchaseAttempt) {
		switch act.Kind {
		case payment.ActionRedirect:
			r.RedirectURL = act.URL
		case payment.ActionSign:
			r.WalletTransfer = act.Transfer
		case payment.ActionSubmitted:
			r.PaymentReference = act.Reference
		}
	})
}

func (o *Orchestrator) transition(ctx context.Context, a *Attempt, to models.AttemptState, mutate func(*models.PurchaseAttempt)) {
	a.mu.Lock()
	from := a.record.State
	if !CanTransition(from, to) {
		a.mu.Unlock()
		panic(fmt.Sprintf("purchase: illegal transition %s -> %s for attempt %s", from, to, a.record.ID))
	}
	at := o.now()
	if mutate != nil {
		mutate(&a.record)
	}
	a.record.State = to
	a.record.UpdatedAt = at
	snapshot := a.record
	a.mu.Unlock()

	o.observer.Observe(context.WithoutCancel(ctx), models.AttemptTransition{From: from, To: to, Attempt: snapshot, At: at})
}
