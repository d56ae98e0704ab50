package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/money"
	"eventtix/internal/payment"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const maxWebhookBody = int64(65536)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// PaymentJournal keeps payments that no attempt is left to record.
type PaymentJournal interface {
	Record(ctx context.Context, entry *models.UnrecordedPayment) error
}

// Webhooks turns verified gateway callbacks into resolutions. A paid
// checkout that reaches no waiting attempt goes to Journal.
type Webhooks struct {
	Secret   string
	Resolver Resolver
	Journal  PaymentJournal
	Logger   *logger.Logger
	Now      func() time.Time
}

// Handle verifies and processes one webhook delivery.
func (h *Webhooks) Handle(r *http.Request) error {
	if h.Secret == "" {
		h.Logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxWebhookBody))
	if err != nil {
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.Logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("Rejected webhook: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	h.Logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event: %s", event.Type))

	var res Resolution
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		cs, werr := decodeSession(event)
		if werr != nil {
			return werr
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			h.Logger.Info("WEBHOOK", fmt.Sprintf("Checkout %s completed with payment status %s, waiting for settlement", cs.ID, cs.PaymentStatus))
			return nil
		}
		res = Resolution{SessionID: cs.ID, Outcome: OutcomePaid, PaymentReference: paymentReference(cs)}
		err := h.resolve(r, res)
		if errors.Is(err, ErrNoWaiter) {
			return h.journal(r, cs)
		}
		return err

	case "checkout.session.async_payment_failed":
		cs, werr := decodeSession(event)
		if werr != nil {
			return werr
		}
		res = Resolution{SessionID: cs.ID, Outcome: OutcomeFailed, Reason: "payment failed at the gateway"}

	case "checkout.session.expired":
		cs, werr := decodeSession(event)
		if werr != nil {
			return werr
		}
		res = Resolution{SessionID: cs.ID, Outcome: OutcomeExpired}

	default:
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
		return nil
	}

	if err := h.resolve(r, res); err != nil && !errors.Is(err, ErrNoWaiter) {
		return err
	}
	return nil
}

// Dismiss resolves a checkout the buyer walked away from.
func (h *Webhooks) Dismiss(r *http.Request, sessionID string) error {
	if err := h.resolve(r, Resolution{SessionID: sessionID, Outcome: OutcomeDismissed}); err != nil && !errors.Is(err, ErrNoWaiter) {
		return err
	}
	return nil
}

func (h *Webhooks) resolve(r *http.Request, res Resolution) error {
	err := h.Resolver.Resolve(r.Context(), res)
	if errors.Is(err, ErrNoWaiter) {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("No attempt waiting on checkout %s (%s)", res.SessionID, res.Outcome))
		return err
	}
	if err != nil {
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Failed to process checkout event",
			InternalError: fmt.Sprintf("Failed to route %s for checkout %s: %v", res.Outcome, res.SessionID, err),
			OriginalErr:   err,
		}
	}
	h.Logger.Info("WEBHOOK", fmt.Sprintf("Routed %s for checkout %s", res.Outcome, res.SessionID))
	return nil
}

// journal records a paid checkout nobody was waiting for. Failing to record
// it is an error so the gateway redelivers the event.
func (h *Webhooks) journal(r *http.Request, cs *stripe.CheckoutSession) error {
	session := sessionFromStripe(cs)
	sel := session.Selection()
	attemptID := session.AttemptID
	if attemptID == "" {
		attemptID = session.Metadata[metaAttemptID]
	}
	if attemptID == "" {
		attemptID = "checkout:" + session.ID
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	entry := &models.UnrecordedPayment{
		AttemptID:        attemptID,
		UserID:           session.Buyer(),
		EventID:          sel.EventID,
		Type:             sel.Type,
		Quantity:         sel.Quantity,
		Amount:           money.FromMinorUnits(session.AmountMinor),
		Currency:         session.Currency,
		PaymentRail:      string(payment.RailGateway),
		PaymentReference: session.PaymentReference,
		Error:            fmt.Sprintf("checkout %s was paid after its attempt stopped waiting", session.ID),
		CreatedAt:        now(),
	}

	h.Logger.Error("WEBHOOK", fmt.Sprintf("PAYMENT CONFIRMED WITHOUT A WAITING ATTEMPT: checkout=%s attempt=%s user=%s reference=%s",
		session.ID, attemptID, entry.UserID, entry.PaymentReference))
	if h.Journal == nil {
		return nil
	}
	if err := h.Journal.Record(r.Context(), entry); err != nil {
		return &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Failed to process checkout event",
			InternalError: fmt.Sprintf("Failed to journal paid checkout %s: %v", session.ID, err),
			OriginalErr:   err,
		}
	}
	return nil
}

// ServeHTTP is the webhook endpoint.
func (h *Webhooks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Handle(r); err != nil {
		var webhookErr *WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Error("WEBHOOK", webhookErr.InternalError)
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		h.Logger.Error("WEBHOOK", err.Error())
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CancelCallback is where the hosted page sends a buyer who dismissed it.
func (h *Webhooks) CancelCallback(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if err := h.Dismiss(r, sessionID); err != nil {
		h.Logger.Error("GATEWAY", fmt.Sprintf("Failed to dismiss checkout %s: %v", sessionID, err))
		http.Error(w, "Failed to cancel checkout", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"sessionId": sessionID, "status": "cancelled"})
}

func decodeSession(event stripe.Event) (*stripe.CheckoutSession, *WebhookError) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal checkout session: %v", err),
			OriginalErr:   err,
		}
	}
	if cs.ID == "" {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: "Checkout session event has no session id",
		}
	}
	return &cs, nil
}

func paymentReference(cs *stripe.CheckoutSession) string {
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		return cs.PaymentIntent.ID
	}
	return cs.ID
}
