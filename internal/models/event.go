package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
)

// PriceTable holds the unit price of each tier. General and VIP are always
// offered; EarlyBird and Group only when set.
type PriceTable struct {
	General   decimal.Decimal     `bun:"general,type:numeric(18,6),notnull" json:"general"`
	VIP       decimal.Decimal     `bun:"vip,type:numeric(18,6),notnull" json:"vip"`
	EarlyBird decimal.NullDecimal `bun:"early_bird,type:numeric(18,6)" json:"earlyBird"`
	Group     decimal.NullDecimal `bun:"group,type:numeric(18,6)" json:"group"`
}

// UnitPrice returns the price of one ticket of type t and whether the tier
// is offered at all.
func (p PriceTable) UnitPrice(t TicketType) (decimal.Decimal, bool) {
	switch t {
	case TicketGeneral:
		return p.General, true
	case TicketVIP:
		return p.VIP, true
	case TicketEarlyBird:
		return p.EarlyBird.Decimal, p.EarlyBird.Valid
	case TicketGroup:
		return p.Group.Decimal, p.Group.Valid
	}
	return decimal.Zero, false
}

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID              string      `bun:"id,pk" json:"id"`
	Title           string      `bun:"title,notnull" json:"title"`
	Description     string      `bun:"description,nullzero" json:"description,omitempty"`
	Venue           string      `bun:"venue,nullzero" json:"venue,omitempty"`
	Category        string      `bun:"category,nullzero" json:"category,omitempty"`
	StartsAt        time.Time   `bun:"starts_at,notnull" json:"startsAt"`
	Capacity        int         `bun:"capacity,notnull" json:"capacity"`
	SoldTickets     int         `bun:"sold_tickets,notnull" json:"soldTickets"`
	Status          EventStatus `bun:"status,notnull" json:"status"`
	OrganizerID     string      `bun:"organizer_id,nullzero" json:"organizerId,omitempty"`
	OrganizerWallet string      `bun:"organizer_wallet,nullzero" json:"organizerWallet,omitempty"`
	Currency        string      `bun:"currency,notnull" json:"currency"`
	Prices          PriceTable  `bun:"embed:price_" json:"price"`
	CreatedAt       time.Time   `bun:"created_at,notnull" json:"createdAt"`
}

// Remaining returns how many tickets can still be sold, or -1 when the event
// has no capacity limit.
func (e *Event) Remaining() int {
	if e.Capacity <= 0 {
		return -1
	}
	if left := e.Capacity - e.SoldTickets; left > 0 {
		return left
	}
	return 0
}
