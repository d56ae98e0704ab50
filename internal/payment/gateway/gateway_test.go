package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/payment"
	"eventtix/internal/payment/gateway"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Create(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Session), args.Error(1)
}

func (m *MockSessions) Expire(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockSessions) Lookup(ctx context.Context, reference string) (*gateway.Session, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Session), args.Error(1)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStrategy(sessions gateway.Sessions, waiters *gateway.Waiters) *gateway.Strategy {
	return gateway.New(sessions, waiters, gateway.Options{
		Currency:   "inr",
		SessionTTL: time.Hour,
		Now:        func() time.Time { return fixedNow },
	}, logger.Discard())
}

func openSession(id string) *gateway.Session {
	return &gateway.Session{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id, ExpiresAt: fixedNow.Add(time.Hour)}
}

// resolveOnRedirect answers the checkout as soon as the strategy reports its URL.
func resolveOnRedirect(waiters *gateway.Waiters, results ...gateway.Resolution) func(payment.Action) {
	return func(a payment.Action) {
		go func() {
			for _, res := range results {
				res.SessionID = a.Reference
				_ = waiters.Resolve(context.Background(), res)
			}
		}()
	}
}

func TestAttemptConvertsToMinorUnitsAndResolvesPaid(t *testing.T) {
	sessions := new(MockSessions)
	waiters := gateway.NewWaiters()
	sel := models.TicketSelection{EventID: "evt-1", Type: models.TicketVIP, Quantity: 7}
	sessions.On("Create", mock.Anything, mock.MatchedBy(func(req gateway.SessionRequest) bool {
		return req.AmountMinor == 13993 && req.Currency == "inr" && req.Email == "buyer@example.com" &&
			req.AttemptID == "attempt-1" && req.ExpiresAt.Equal(fixedNow.Add(time.Hour)) &&
			req.UserID == "user-1" && req.Selection == sel
	})).Return(openSession("cs_1"), nil)

	var redirect payment.Action
	notify := resolveOnRedirect(waiters, gateway.Resolution{Outcome: gateway.OutcomePaid, PaymentReference: "pi_1"})
	proof, err := newStrategy(sessions, waiters).Attempt(context.Background(), payment.Charge{
		AttemptID: "attempt-1",
		Payer:     "user-1",
		Selection: sel,
		Amount:    decimal.RequireFromString("139.93"),
		Contact:   payment.Contact{Email: "buyer@example.com"},
		Notify: func(a payment.Action) {
			redirect = a
			notify(a)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, payment.Proof{Rail: payment.RailGateway, Reference: "pi_1"}, proof)
	assert.Equal(t, payment.ActionRedirect, redirect.Kind)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", redirect.URL)
	sessions.AssertExpectations(t)
	sessions.AssertNotCalled(t, "Expire", mock.Anything, mock.Anything)
}

func TestAttemptDismissedIsCancelled(t *testing.T) {
	sessions := new(MockSessions)
	waiters := gateway.NewWaiters()
	sessions.On("Create", mock.Anything, mock.Anything).Return(openSession("cs_2"), nil)
	sessions.On("Expire", mock.Anything, "cs_2").Return(nil)

	_, err := newStrategy(sessions, waiters).Attempt(context.Background(), payment.Charge{
		AttemptID: "attempt-2",
		Amount:    decimal.NewFromInt(2),
		Notify:    resolveOnRedirect(waiters, gateway.Resolution{Outcome: gateway.OutcomeDismissed}),
	})

	assert.ErrorIs(t, err, payment.ErrCancelled)
	sessions.AssertExpectations(t)
}

func TestAttemptDismissedAfterPaymentKeepsWaiting(t *testing.T) {
	sessions := new(MockSessions)
	waiters := gateway.NewWaiters()
	sessions.On("Create", mock.Anything, mock.Anything).Return(openSession("cs_3"), nil)
	// the buyer paid in another tab before the dismissal was processed
	sessions.On("Expire", mock.Anything, "cs_3").Run(func(mock.Arguments) {
		waiters.Deliver(gateway.Resolution{SessionID: "cs_3", Outcome: gateway.OutcomePaid, PaymentReference: "pi_3"})
	}).Return(errors.New("session is already complete"))
	// the gateway has not settled it yet when asked
	sessions.On("Lookup", mock.Anything, "cs_3").Return(&gateway.Session{ID: "cs_3"}, nil)

	proof, err := newStrategy(sessions, waiters).Attempt(context.Background(), payment.Charge{
		AttemptID: "attempt-3",
		Amount:    decimal.NewFromInt(2),
		Notify:    resolveOnRedirect(waiters, gateway.Resolution{Outcome: gateway.OutcomeDismissed}),
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_3", proof.Reference)
}

func TestAttemptExpiredAndFailedOutcomes(t *testing.T) {
	cases := []struct {
		outcome gateway.Outcome
		want    error
	}{
		{gateway.OutcomeExpired, payment.ErrCancelled},
		{gateway.OutcomeFailed, payment.ErrUserRejected},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			sessions := new(MockSessions)
			waiters := gateway.NewWaiters()
			sessions.On("Create", mock.Anything, mock.Anything).Return(openSession("cs_x"), nil)

			_, err := newStrategy(sessions, waiters).Attempt(context.Background(), payment.Charge{
				AttemptID: "attempt-x",
				Amount:    decimal.NewFromInt(1),
				Notify:    resolveOnRedirect(waiters, gateway.Resolution{Outcome: tc.outcome, Reason: "declined"}),
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAttemptPastSessionExpiryIsCancelled(t *testing.T) {
	sessions := new(MockSessions)
	waiters := gateway.NewWaiters()
	stale := &gateway.Session{ID: "cs_old", URL: "https://pay", ExpiresAt: fixedNow.Add(-time.Hour)}
	sessions.On("Create", mock.Anything, mock.Anything).Return(stale, nil)
	sessions.On("Expire", mock.Anything, "cs_old").Return(nil)

	_, err := newStrategy(sessions, waiters).Attempt(context.Background(), payment.Charge{
		AttemptID: "attempt-old",
		Amount:    decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, payment.ErrCancelled)
	sessions.AssertExpectations(t)
}

func TestAttemptContextCancelExpiresSession(t *testing.T) {
	sessions := new(MockSessions)
	waiters := gateway.NewWaiters()
	sessions.On("Create", mock.Anything, mock.Anything).Return(openSession("cs_ctx"), nil)
	sessions.On("Expire", mock.Anything, "cs_ctx").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := newStrategy(sessions, waiters).Attempt(ctx, payment.Charge{
		AttemptID: "attempt-ctx",
		Amount:    decimal.NewFromInt(1),
		Notify:    func(payment.Action) { cancel() },
	})

	assert.ErrorIs(t, err, context.Canceled)
	sessions.AssertExpectations(t)
}

func TestAttemptRejectsUnrepresentableAmount(t *testing.T) {
	sessions := new(MockSessions)
	_, err := newStrategy(sessions, gateway.NewWaiters()).Attempt(context.Background(), payment.Charge{
		Amount: decimal.RequireFromString("0.001"),
	})
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
	sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAttemptSessionCreateFailureIsNetworkError(t *testing.T) {
	sessions := new(MockSessions)
	sessions.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("stripe unavailable"))

	_, err := newStrategy(sessions, gateway.NewWaiters()).Attempt(context.Background(), payment.Charge{
		Amount: decimal.NewFromInt(5),
	})
	assert.ErrorIs(t, err, payment.ErrNetwork)
}

func TestDeliverNeverDropsPaidBehindPendingResolution(t *testing.T) {
	waiters := gateway.NewWaiters()
	ch := waiters.Register("cs_race")

	assert.True(t, waiters.Deliver(gateway.Resolution{SessionID: "cs_race", Outcome: gateway.OutcomeDismissed}))
	assert.True(t, waiters.Deliver(gateway.Resolution{SessionID: "cs_race", Outcome: gateway.OutcomePaid, PaymentReference: "pi_race"}))
	// a later non-paid resolution does not displace the payment
	assert.True(t, waiters.Deliver(gateway.Resolution{SessionID: "cs_race", Outcome: gateway.OutcomeExpired}))

	res := <-ch
	assert.Equal(t, gateway.OutcomePaid, res.Outcome)
	assert.Equal(t, "pi_race", res.PaymentReference)
	assert.Empty(t, ch)
}

func TestAttemptDismissedThenPaidBackToBackReturnsProof(t *testing.T) {
	sessions := new(MockSessions)
	waiters := gateway.NewWaiters()
	sessions.On("Create", mock.Anything, mock.Anything).Return(openSession("cs_b2b"), nil)
	sessions.On("Expire", mock.Anything, "cs_b2b").Return(errors.New("session is already complete")).Maybe()
	sessions.On("Lookup", mock.Anything, "cs_b2b").
		Return(&gateway.Session{ID: "cs_b2b", Paid: true, PaymentReference: "pi_b2b"}, nil).Maybe()

	proof, err := newStrategy(sessions, waiters).Attempt(context.Background(), payment.Charge{
		AttemptID: "attempt-b2b",
		Amount:    decimal.NewFromInt(2),
		Notify: resolveOnRedirect(waiters,
			gateway.Resolution{Outcome: gateway.OutcomeDismissed},
			gateway.Resolution{Outcome: gateway.OutcomePaid, PaymentReference: "pi_b2b"}),
	})

	require.NoError(t, err)
	assert.Equal(t, payment.Proof{Rail: payment.RailGateway, Reference: "pi_b2b"}, proof)
}

func TestAttemptRecoversPaymentWhenSessionCannotBeStopped(t *testing.T) {
	paid := &gateway.Session{ID: "cs_late", Paid: true, PaymentReference: "pi_late"}

	t.Run("timed out", func(t *testing.T) {
		sessions := new(MockSessions)
		stale := &gateway.Session{ID: "cs_late", URL: "https://pay", ExpiresAt: fixedNow.Add(-time.Hour)}
		sessions.On("Create", mock.Anything, mock.Anything).Return(stale, nil)
		sessions.On("Expire", mock.Anything, "cs_late").Return(errors.New("session is already complete"))
		sessions.On("Lookup", mock.Anything, "cs_late").Return(paid, nil)

		proof, err := newStrategy(sessions, gateway.NewWaiters()).Attempt(context.Background(), payment.Charge{
			AttemptID: "attempt-late",
			Amount:    decimal.NewFromInt(1),
		})
		require.NoError(t, err)
		assert.Equal(t, "pi_late", proof.Reference)
	})

	t.Run("cancelled", func(t *testing.T) {
		sessions := new(MockSessions)
		sessions.On("Create", mock.Anything, mock.Anything).Return(openSession("cs_late"), nil)
		sessions.On("Expire", mock.Anything, "cs_late").Return(errors.New("session is already complete"))
		sessions.On("Lookup", mock.Anything, "cs_late").Return(paid, nil)

		ctx, cancel := context.WithCancel(context.Background())
		proof, err := newStrategy(sessions, gateway.NewWaiters()).Attempt(ctx, payment.Charge{
			AttemptID: "attempt-late",
			Amount:    decimal.NewFromInt(1),
			Notify:    func(payment.Action) { cancel() },
		})
		require.NoError(t, err)
		assert.Equal(t, "pi_late", proof.Reference)
	})

	t.Run("not paid either", func(t *testing.T) {
		sessions := new(MockSessions)
		stale := &gateway.Session{ID: "cs_gone", URL: "https://pay", ExpiresAt: fixedNow.Add(-time.Hour)}
		sessions.On("Create", mock.Anything, mock.Anything).Return(stale, nil)
		sessions.On("Expire", mock.Anything, "cs_gone").Return(errors.New("stripe unavailable"))
		sessions.On("Lookup", mock.Anything, "cs_gone").Return(&gateway.Session{ID: "cs_gone"}, nil)

		_, err := newStrategy(sessions, gateway.NewWaiters()).Attempt(context.Background(), payment.Charge{
			AttemptID: "attempt-gone",
			Amount:    decimal.NewFromInt(1),
		})
		assert.ErrorIs(t, err, payment.ErrCancelled)
	})
}

func settledSession(buyer string, amountMinor int64) *gateway.Session {
	return &gateway.Session{
		ID:               "cs_settled",
		Paid:             true,
		PaymentReference: "pi_settled",
		AmountMinor:      amountMinor,
		Currency:         "inr",
		Metadata: map[string]string{
			"user_id":     buyer,
			"event_id":    "evt-1",
			"ticket_type": "vip",
			"quantity":    "2",
		},
	}
}

func TestVerifyChecksSettlementBuyerAndAmount(t *testing.T) {
	charge := payment.Charge{
		Payer:     "user-1",
		Amount:    decimal.RequireFromString("39.98"),
		Selection: models.TicketSelection{EventID: "evt-1", Type: models.TicketVIP, Quantity: 2},
	}
	unpaid := settledSession("user-1", 3998)
	unpaid.Paid = false

	cases := []struct {
		name    string
		session *gateway.Session
		err     error
		want    error
	}{
		{"fabricated reference", nil, fmt.Errorf("%w: i-never-paid", gateway.ErrSessionNotFound), payment.ErrUnverified},
		{"not paid", unpaid, nil, payment.ErrUnverified},
		{"someone else's payment", settledSession("user-2", 3998), nil, payment.ErrPayerMismatch},
		{"short payment", settledSession("user-1", 100), nil, payment.ErrUnverified},
		{"gateway down", nil, errors.New("stripe unavailable"), payment.ErrNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := new(MockSessions)
			if tc.session != nil {
				sessions.On("Lookup", mock.Anything, "ref").Return(tc.session, nil)
			} else {
				sessions.On("Lookup", mock.Anything, "ref").Return(nil, tc.err)
			}
			_, err := newStrategy(sessions, gateway.NewWaiters()).Verify(context.Background(), "ref", charge)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	sessions := new(MockSessions)
	sessions.On("Lookup", mock.Anything, "cs_settled").Return(settledSession("user-1", 3998), nil)
	proof, err := newStrategy(sessions, gateway.NewWaiters()).Verify(context.Background(), "cs_settled", charge)
	require.NoError(t, err)
	assert.Equal(t, payment.Proof{Rail: payment.RailGateway, Reference: "pi_settled"}, proof)
}
