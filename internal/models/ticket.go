package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type TicketType string

const (
	TicketGeneral   TicketType = "general"
	TicketVIP       TicketType = "vip"
	TicketEarlyBird TicketType = "earlyBird"
	TicketGroup     TicketType = "group"
)

// Valid reports whether t is one of the known price tiers.
func (t TicketType) Valid() bool {
	switch t {
	case TicketGeneral, TicketVIP, TicketEarlyBird, TicketGroup:
		return true
	}
	return false
}

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketRefunded  TicketStatus = "refunded"
	TicketCancelled TicketStatus = "cancelled"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketActive, TicketUsed, TicketRefunded, TicketCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a ticket in status s may move to next.
// Only active tickets change status, and never back to active.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if s != TicketActive {
		return false
	}
	switch next {
	case TicketUsed, TicketRefunded, TicketCancelled:
		return true
	}
	return false
}

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID               string          `bun:"id,pk" json:"id"`
	EventID          string          `bun:"event_id,notnull" json:"eventId"`
	UserID           string          `bun:"user_id,notnull" json:"userId"`
	Type             TicketType      `bun:"type,notnull" json:"type"`
	Quantity         int             `bun:"quantity,notnull" json:"quantity"`
	TotalPrice       decimal.Decimal `bun:"total_price,type:numeric(18,6),notnull" json:"totalPrice"`
	Status           TicketStatus    `bun:"status,notnull" json:"status"`
	PurchasedAt      time.Time       `bun:"purchased_at,notnull" json:"purchaseDate"`
	PaymentRail      string          `bun:"payment_rail,nullzero" json:"paymentRail,omitempty"`
	PaymentReference string          `bun:"payment_reference,nullzero,unique" json:"paymentReference,omitempty"`
	UpdatedAt        time.Time       `bun:"updated_at,nullzero" json:"updatedAt,omitempty"`

	Owner *User `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

// TicketSelection is what a buyer submits: one tier, some quantity, one event.
type TicketSelection struct {
	EventID  string     `json:"eventId"`
	Type     TicketType `json:"type"`
	Quantity int        `json:"quantity"`
}
