// Package gateway collects payment through a hosted checkout page and
// resolves when the gateway calls back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventtix/internal/logger"
	"eventtix/internal/money"
	"eventtix/internal/payment"
)

// expiryGrace gives the gateway's own expiry webhook a chance to arrive
// before the local timer gives up on a session.
const expiryGrace = 2 * time.Minute

const lookupTimeout = 10 * time.Second

type Strategy struct {
	sessions   Sessions
	waiters    *Waiters
	currency   string
	sessionTTL time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

type Options struct {
	Currency   string
	SessionTTL time.Duration
	Now        func() time.Time
}

func New(sessions Sessions, waiters *Waiters, opts Options, log *logger.Logger) *Strategy {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Strategy{
		sessions:   sessions,
		waiters:    waiters,
		currency:   opts.Currency,
		sessionTTL: opts.SessionTTL,
		logger:     log,
		now:        now,
	}
}

func (s *Strategy) Rail() payment.Rail {
	return payment.RailGateway
}

// Attempt opens a checkout session for the charge, reports its URL, and
// waits for the gateway to settle it.
func (s *Strategy) Attempt(ctx context.Context, charge payment.Charge) (payment.Proof, error) {
	amount, err := money.ToMinorUnits(charge.Amount)
	if err != nil {
		return payment.Proof{}, fmt.Errorf("%w: %w", payment.ErrInvalidAmount, err)
	}
	if amount <= 0 {
		return payment.Proof{}, fmt.Errorf("%w: %s", payment.ErrInvalidAmount, charge.Amount)
	}

	currency := s.currency
	if currency == "" {
		currency = charge.Currency
	}

	session, err := s.sessions.Create(ctx, SessionRequest{
		AttemptID:   charge.AttemptID,
		UserID:      charge.Payer,
		Selection:   charge.Selection,
		Description: charge.Description,
		Currency:    currency,
		AmountMinor: amount,
		Email:       charge.Contact.Email,
		ExpiresAt:   s.now().Add(s.sessionTTL),
	})
	if err != nil {
		if ctx.Err() != nil {
			return payment.Proof{}, ctx.Err()
		}
		return payment.Proof{}, fmt.Errorf("%w: %w", payment.ErrNetwork, err)
	}

	resolutions := s.waiters.Register(session.ID)
	defer s.waiters.Forget(session.ID)

	s.logger.LogPayment(string(payment.RailGateway), session.ID, fmt.Sprintf("checkout opened for attempt %s (%d %s minor units)",
		charge.AttemptID, amount, currency))
	charge.Report(payment.Action{Kind: payment.ActionRedirect, URL: session.URL, Reference: session.ID})

	timer := time.NewTimer(session.ExpiresAt.Sub(s.now()) + expiryGrace)
	defer timer.Stop()

	for {
		select {
		case res := <-resolutions:
			switch res.Outcome {
			case OutcomePaid:
				ref := res.PaymentReference
				if ref == "" {
					ref = session.ID
				}
				s.logger.LogPayment(string(payment.RailGateway), session.ID, fmt.Sprintf("paid, reference %s", ref))
				return payment.Proof{Rail: payment.RailGateway, Reference: ref}, nil

			case OutcomeDismissed:
				// Expiring fails when the buyer paid in another tab.
				if err := s.sessions.Expire(context.WithoutCancel(ctx), session.ID); err != nil {
					if proof, ok := s.paidAfterAll(ctx, session.ID); ok {
						return proof, nil
					}
					s.logger.Warn("GATEWAY", fmt.Sprintf("Checkout %s dismissed but could not be expired, still waiting: %v", session.ID, err))
					continue
				}
				return payment.Proof{}, fmt.Errorf("%w: checkout dismissed", payment.ErrCancelled)

			case OutcomeExpired:
				return payment.Proof{}, fmt.Errorf("%w: checkout session expired", payment.ErrCancelled)

			case OutcomeFailed:
				return payment.Proof{}, fmt.Errorf("%w: %s", payment.ErrUserRejected, res.Reason)

			default:
				s.logger.Warn("GATEWAY", fmt.Sprintf("Ignoring unknown outcome %q for %s", res.Outcome, session.ID))
			}

		case <-timer.C:
			s.logger.Warn("GATEWAY", fmt.Sprintf("Checkout %s passed its expiry without a callback", session.ID))
			if proof, ok := s.stop(ctx, session.ID); ok {
				return proof, nil
			}
			return payment.Proof{}, fmt.Errorf("%w: checkout session timed out", payment.ErrCancelled)

		case <-ctx.Done():
			if proof, ok := s.stop(ctx, session.ID); ok {
				return proof, nil
			}
			return payment.Proof{}, ctx.Err()
		}
	}
}

// stop expires a session the attempt is giving up on. A session that cannot
// be expired may have been paid; its proof is returned when it was.
func (s *Strategy) stop(ctx context.Context, sessionID string) (payment.Proof, bool) {
	err := s.sessions.Expire(context.WithoutCancel(ctx), sessionID)
	if err == nil {
		return payment.Proof{}, false
	}
	s.logger.Warn("GATEWAY", fmt.Sprintf("Failed to expire checkout %s: %v", sessionID, err))
	return s.paidAfterAll(ctx, sessionID)
}

func (s *Strategy) paidAfterAll(ctx context.Context, sessionID string) (payment.Proof, bool) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
	defer cancel()
	session, err := s.sessions.Lookup(lookupCtx, sessionID)
	if err != nil {
		s.logger.Error("GATEWAY", fmt.Sprintf("Could not tell whether checkout %s was paid: %v", sessionID, err))
		return payment.Proof{}, false
	}
	if !session.Paid {
		return payment.Proof{}, false
	}
	s.logger.LogPayment(string(payment.RailGateway), sessionID, fmt.Sprintf("paid without a callback, reference %s", session.PaymentReference))
	return payment.Proof{Rail: payment.RailGateway, Reference: session.PaymentReference}, true
}

// Verify checks that reference, a checkout session id or the payment it
// settled with, was paid in full by charge.Payer.
func (s *Strategy) Verify(ctx context.Context, reference string, charge payment.Charge) (payment.Proof, error) {
	amount, err := money.ToMinorUnits(charge.Amount)
	if err != nil {
		return payment.Proof{}, fmt.Errorf("%w: %w", payment.ErrInvalidAmount, err)
	}
	session, err := s.sessions.Lookup(ctx, reference)
	if errors.Is(err, ErrSessionNotFound) {
		return payment.Proof{}, fmt.Errorf("%w: %w", payment.ErrUnverified, err)
	}
	if err != nil {
		return payment.Proof{}, fmt.Errorf("%w: %w", payment.ErrNetwork, err)
	}

	currency := s.currency
	if currency == "" {
		currency = charge.Currency
	}
	switch {
	case !session.Paid:
		return payment.Proof{}, fmt.Errorf("%w: checkout %s is not paid", payment.ErrUnverified, session.ID)
	case session.Buyer() != charge.Payer:
		return payment.Proof{}, fmt.Errorf("%w: checkout %s", payment.ErrPayerMismatch, session.ID)
	case session.AmountMinor != amount || !strings.EqualFold(session.Currency, currency):
		return payment.Proof{}, fmt.Errorf("%w: checkout %s settled %d %s, expected %d %s",
			payment.ErrUnverified, session.ID, session.AmountMinor, session.Currency, amount, currency)
	}
	if sel := session.Selection(); charge.Selection.EventID != "" && sel != charge.Selection {
		return payment.Proof{}, fmt.Errorf("%w: checkout %s paid for %d x %s of event %s",
			payment.ErrUnverified, session.ID, sel.Quantity, sel.Type, sel.EventID)
	}
	return payment.Proof{Rail: payment.RailGateway, Reference: session.PaymentReference}, nil
}
