// Package payment defines the capability every payment rail implements: take
// a charge, move the money, and return a single proof that it moved.
package payment

import (
	"context"
	"errors"

	"eventtix/internal/models"

	"github.com/shopspring/decimal"
)

type Rail string

const (
	RailWallet  Rail = "wallet"
	RailGateway Rail = "gateway"
)

// Proof is the opaque evidence a rail returns once funds moved: a
// transaction hash for the wallet rail, a checkout session or payment id for
// the gateway rail.
type Proof struct {
	Rail      Rail   `json:"rail"`
	Reference string `json:"reference"`
}

// Contact is optional buyer information some rails prefill.
type Contact struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type ActionKind string

const (
	// ActionRedirect asks the buyer to complete payment on a hosted page.
	ActionRedirect ActionKind = "redirect"
	// ActionSign asks the buyer's wallet to sign and send Transfer.
	ActionSign ActionKind = "sign"
	// ActionSubmitted reports a transfer handed to the network but not yet
	// acknowledged.
	ActionSubmitted ActionKind = "submitted"
)

// Action is progress a rail reports while an attempt is in flight.
type Action struct {
	Kind      ActionKind             `json:"kind"`
	URL       string                 `json:"url,omitempty"`
	Reference string                 `json:"reference,omitempty"`
	Transfer  *models.WalletTransfer `json:"transfer,omitempty"`
}

// Charge is what the orchestrator asks a rail to collect. Amount is in the
// event currency; each rail converts to its own smallest unit. Payer is the
// buying user, whom the rail binds the payment to.
type Charge struct {
	AttemptID   string
	Payer       string
	Selection   models.TicketSelection
	Amount      decimal.Decimal
	Currency    string
	Description string
	Receiver    string
	Contact     Contact
	Notify      func(Action)
}

// Report calls Notify when one is set.
func (c Charge) Report(a Action) {
	if c.Notify != nil {
		c.Notify(a)
	}
}

// Strategy is one payment rail. Attempt blocks until the rail resolves and
// returns either a proof or an error wrapping one of the sentinels below.
// Implementations never retry on their own.
type Strategy interface {
	Rail() Rail
	Attempt(ctx context.Context, charge Charge) (Proof, error)
}

var (
	ErrUserRejected   = errors.New("payer rejected the payment")
	ErrNetwork        = errors.New("payment network error")
	ErrInvalidAddress = errors.New("invalid receiver address")
	ErrCancelled      = errors.New("payment cancelled")
	ErrInvalidAmount  = errors.New("invalid payment amount")

	ErrUnverified    = errors.New("payment reference does not match a settled payment for this charge")
	ErrPayerMismatch = errors.New("payment was made by another user")
)

// Verifier checks, after the fact, that reference names a settled payment
// of exactly charge, made by charge.Payer. The returned proof carries the
// rail's canonical reference.
type Verifier interface {
	Verify(ctx context.Context, reference string, charge Charge) (Proof, error)
}
