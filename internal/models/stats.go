package models

import "github.com/shopspring/decimal"

// TicketStats is the admin summary of everything in the ledger.
type TicketStats struct {
	TotalTickets  int               `json:"totalTickets"`
	ActiveTickets int               `json:"activeTickets"`
	TotalRevenue  decimal.Decimal   `json:"totalRevenue"`
	ByStatus      []StatusBreakdown `json:"byStatus"`
	ByType        []TypeBreakdown   `json:"byType"`
}

type StatusBreakdown struct {
	Status  TicketStatus    `bun:"status" json:"status"`
	Tickets int             `bun:"tickets" json:"tickets"`
	Revenue decimal.Decimal `bun:"revenue" json:"revenue"`
}

type TypeBreakdown struct {
	Type     TicketType      `bun:"type" json:"type"`
	Tickets  int             `bun:"tickets" json:"tickets"`
	Quantity int             `bun:"quantity" json:"quantity"`
	Revenue  decimal.Decimal `bun:"revenue" json:"revenue"`
}
