package purchase

import (
	"context"
	"errors"
	"fmt"

	"eventtix/internal/models"
	"eventtix/internal/payment"

	"github.com/shopspring/decimal"
)

// Kind classifies why a purchase did not complete.
type Kind string

const (
	KindInvalidSelection    Kind = "InvalidSelection"
	KindUnauthorized        Kind = "Unauthorized"
	KindAccessDenied        Kind = "AccessDenied"
	KindNotFound            Kind = "NotFound"
	KindPaymentRejected     Kind = "PaymentRejected"
	KindPaymentNetworkError Kind = "PaymentNetworkError"
	KindPaymentCancelled    Kind = "PaymentCancelled"
	KindInvalidAddress      Kind = "InvalidAddress"
	KindLedgerWriteFailed   Kind = "LedgerWriteFailed"
	KindDuplicateAttempt    Kind = "DuplicateAttempt"
)

// Reconciliation is everything an operator needs to issue a ticket by hand
// for a payment that moved but was never recorded.
type Reconciliation struct {
	AttemptID string            `json:"attemptId"`
	UserID    string            `json:"userId"`
	EventID   string            `json:"eventId"`
	Type      models.TicketType `json:"type"`
	Quantity  int               `json:"quantity"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency"`
	Proof     payment.Proof     `json:"proof"`
}

func (r Reconciliation) String() string {
	return fmt.Sprintf("attempt=%s user=%s event=%s selection=%dx%s amount=%s %s proof=%s:%s",
		r.AttemptID, r.UserID, r.EventID, r.Quantity, r.Type, r.Amount, r.Currency, r.Proof.Rail, r.Proof.Reference)
}

// Error is returned for every purchase that does not end Completed.
type Error struct {
	Kind           Kind
	State          models.AttemptState
	Message        string
	Reconciliation *Reconciliation
	Err            error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrPaymentRejected)
// works on wrapped results.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidSelection    = &Error{Kind: KindInvalidSelection}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrAccessDenied        = &Error{Kind: KindAccessDenied}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrPaymentRejected     = &Error{Kind: KindPaymentRejected}
	ErrPaymentNetworkError = &Error{Kind: KindPaymentNetworkError}
	ErrPaymentCancelled    = &Error{Kind: KindPaymentCancelled}
	ErrInvalidAddress      = &Error{Kind: KindInvalidAddress}
	ErrLedgerWriteFailed   = &Error{Kind: KindLedgerWriteFailed}
	ErrDuplicateAttempt    = &Error{Kind: KindDuplicateAttempt}
)

// KindOf returns the kind of a purchase error, or "" for anything else.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

func invalidSelection(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidSelection, State: models.AttemptIdle, Message: fmt.Sprintf(format, args...)}
}

// paymentFailure maps a strategy error onto the purchase taxonomy.
func paymentFailure(err error) *Error {
	kind := KindPaymentNetworkError
	switch {
	case errors.Is(err, payment.ErrInvalidAddress):
		kind = KindInvalidAddress
	case errors.Is(err, payment.ErrUserRejected),
		errors.Is(err, payment.ErrUnverified),
		errors.Is(err, payment.ErrPayerMismatch):
		kind = KindPaymentRejected
	case errors.Is(err, payment.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		kind = KindPaymentCancelled
	case errors.Is(err, payment.ErrInvalidAmount):
		kind = KindInvalidSelection
	}
	return &Error{Kind: kind, State: models.AttemptFailed, Message: "payment did not complete", Err: err}
}
