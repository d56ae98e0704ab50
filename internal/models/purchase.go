package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// AttemptState is the position of a purchase attempt in its state machine.
type AttemptState string

const (
	AttemptIdle             AttemptState = "idle"
	AttemptAwaitingPayment  AttemptState = "awaiting_payment"
	AttemptConfirmingLedger AttemptState = "confirming_ledger"
	AttemptCompleted        AttemptState = "completed"
	AttemptFailed           AttemptState = "failed"
	AttemptUnrecorded       AttemptState = "payment_confirmed_but_unrecorded"
)

func (s AttemptState) Terminal() bool {
	return s == AttemptCompleted || s == AttemptFailed || s == AttemptUnrecorded
}

// PurchaseAttempt is the observable record of one purchase: what was
// selected, what it cost, how far payment got and what came out of it.
type PurchaseAttempt struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Selection        TicketSelection `json:"selection"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	Currency         string          `json:"currency"`
	Method           string          `json:"method"`
	State            AttemptState    `json:"state"`
	FailureKind      string          `json:"failureKind,omitempty"`
	FailureMessage   string          `json:"failureMessage,omitempty"`
	PaymentRail      string          `json:"paymentRail,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	RedirectURL      string          `json:"redirectUrl,omitempty"`
	WalletTransfer   *WalletTransfer `json:"walletTransfer,omitempty"`
	TicketID         string          `json:"ticketId,omitempty"`
	IdempotencyKey   string          `json:"idempotencyKey,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	PaymentStartedAt time.Time       `json:"paymentStartedAt,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// WalletTransfer is the transaction the buyer's wallet must sign and send,
// in the shape of eth_sendTransaction parameters.
type WalletTransfer struct {
	ChainID string `json:"chainId"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
}

// AttemptTransition is emitted every time an attempt changes state, and
// when a payment rail reports progress without changing state.
type AttemptTransition struct {
	From    AttemptState    `json:"from"`
	To      AttemptState    `json:"to"`
	Attempt PurchaseAttempt `json:"attempt"`
	At      time.Time       `json:"at"`
}

// UnrecordedPayment is a reconciliation entry: money moved on a payment
// rail but the ticket could not be written.
type UnrecordedPayment struct {
	bun.BaseModel `bun:"table:unrecorded_payments"`

	AttemptID        string          `bun:"attempt_id,pk" json:"attemptId"`
	UserID           string          `bun:"user_id,notnull" json:"userId"`
	EventID          string          `bun:"event_id,notnull" json:"eventId"`
	Type             TicketType      `bun:"type,notnull" json:"type"`
	Quantity         int             `bun:"quantity,notnull" json:"quantity"`
	Amount           decimal.Decimal `bun:"amount,type:numeric(18,6),notnull" json:"amount"`
	Currency         string          `bun:"currency,notnull" json:"currency"`
	PaymentRail      string          `bun:"payment_rail,notnull" json:"paymentRail"`
	PaymentReference string          `bun:"payment_reference,notnull" json:"paymentReference"`
	Error            string          `bun:"error,notnull" json:"error"`
	Resolved         bool            `bun:"resolved,notnull" json:"resolved"`
	CreatedAt        time.Time       `bun:"created_at,notnull" json:"createdAt"`
}
