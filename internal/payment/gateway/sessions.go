package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eventtix/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Session metadata keys. They let a payment be matched to its buyer and
// selection without the attempt that opened it.
const (
	metaAttemptID = "attempt_id"
	metaUserID    = "user_id"
	metaEventID   = "event_id"
	metaType      = "ticket_type"
	metaQuantity  = "quantity"
)

var ErrSessionNotFound = errors.New("checkout session not found")

// SessionRequest describes one hosted checkout.
type SessionRequest struct {
	AttemptID   string
	UserID      string
	Selection   models.TicketSelection
	Description string
	Currency    string
	AmountMinor int64
	Email       string
	ExpiresAt   time.Time
}

type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time

	// Settlement as last reported by the gateway.
	Paid             bool
	PaymentReference string
	AmountMinor      int64
	Currency         string
	AttemptID        string
	Metadata         map[string]string
}

// Buyer is the user the session was opened for.
func (s *Session) Buyer() string {
	return s.Metadata[metaUserID]
}

// Selection is the ticket selection the session was opened for.
func (s *Session) Selection() models.TicketSelection {
	qty, _ := strconv.Atoi(s.Metadata[metaQuantity])
	return models.TicketSelection{
		EventID:  s.Metadata[metaEventID],
		Type:     models.TicketType(s.Metadata[metaType]),
		Quantity: qty,
	}
}

// Sessions creates, expires and looks up hosted checkout sessions.
type Sessions interface {
	Create(ctx context.Context, req SessionRequest) (*Session, error)
	Expire(ctx context.Context, sessionID string) error
	// Lookup finds a session by its id or by the payment reference it
	// settled with.
	Lookup(ctx context.Context, reference string) (*Session, error)
}

// StripeSessions implements Sessions on Stripe Checkout.
type StripeSessions struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewStripeSessions(api *client.API, successURL, cancelURL string) *StripeSessions {
	return &StripeSessions{api: api, successURL: successURL, cancelURL: cancelURL}
}

func (s *StripeSessions) Create(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.AttemptID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(withSessionID(s.cancelURL)),
		ExpiresAt:         stripe.Int64(req.ExpiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata(metaAttemptID, req.AttemptID)
	params.AddMetadata(metaUserID, req.UserID)
	params.AddMetadata(metaEventID, req.Selection.EventID)
	params.AddMetadata(metaType, string(req.Selection.Type))
	params.AddMetadata(metaQuantity, strconv.Itoa(req.Selection.Quantity))
	// One session per attempt even if the create call is repeated by the client library.
	params.SetIdempotencyKey("checkout-" + req.AttemptID)
	params.Context = ctx

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sessionFromStripe(cs), nil
}

func (s *StripeSessions) Expire(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := s.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return fmt.Errorf("expire checkout session %s: %w", sessionID, err)
	}
	return nil
}

func (s *StripeSessions) Lookup(ctx context.Context, reference string) (*Session, error) {
	if strings.HasPrefix(reference, "cs_") {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		cs, err := s.api.CheckoutSessions.Get(reference, params)
		if err != nil {
			var stripeErr *stripe.Error
			if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, reference)
			}
			return nil, fmt.Errorf("get checkout session %s: %w", reference, err)
		}
		return sessionFromStripe(cs), nil
	}

	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(reference)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	it := s.api.CheckoutSessions.List(params)
	if it.Next() {
		return sessionFromStripe(it.CheckoutSession()), nil
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("find checkout session for %s: %w", reference, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, reference)
}

func sessionFromStripe(cs *stripe.CheckoutSession) *Session {
	return &Session{
		ID:               cs.ID,
		URL:              cs.URL,
		ExpiresAt:        time.Unix(cs.ExpiresAt, 0),
		Paid:             cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		PaymentReference: paymentReference(cs),
		AmountMinor:      cs.AmountTotal,
		Currency:         string(cs.Currency),
		AttemptID:        cs.ClientReferenceID,
		Metadata:         cs.Metadata,
	}
}

// withSessionID appends Stripe's session id template so the cancel callback
// knows which checkout was dismissed.
func withSessionID(cancelURL string) string {
	if strings.Contains(cancelURL, "{CHECKOUT_SESSION_ID}") {
		return cancelURL
	}
	sep := "?"
	if strings.Contains(cancelURL, "?") {
		sep = "&"
	}
	return cancelURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}
