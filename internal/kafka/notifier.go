package kafka

import (
	"context"
	"fmt"
	"time"

	"eventtix/internal/config"
	"eventtix/internal/logger"
	"eventtix/internal/models"
)

// Envelope wraps every message this service publishes.
type Envelope struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

type StatusChange struct {
	Ticket *models.Ticket      `json:"ticket"`
	From   models.TicketStatus `json:"from"`
	To     models.TicketStatus `json:"to"`
}

// Notifier turns ticket and purchase changes into domain events. It serves
// as the ledger's publisher and as a purchase observer.
type Notifier struct {
	Publisher Publisher
	Topics    config.TopicConfig
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewNotifier(p Publisher, topics config.TopicConfig, log *logger.Logger) *Notifier {
	return &Notifier{Publisher: p, Topics: topics, Logger: log, Now: time.Now}
}

func (n *Notifier) publish(ctx context.Context, topic, key, typ string, data interface{}) {
	err := n.Publisher.Publish(ctx, topic, key, Envelope{Type: typ, OccurredAt: n.Now(), Data: data})
	if err != nil {
		n.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s for %s: %v", typ, key, err))
	}
}

func (n *Notifier) TicketCreated(ctx context.Context, ticket *models.Ticket) {
	n.publish(ctx, n.Topics.TicketCreated, ticket.ID, "ticket.created", ticket)
}

func (n *Notifier) TicketStatusChanged(ctx context.Context, ticket *models.Ticket, from models.TicketStatus) {
	n.publish(ctx, n.Topics.TicketStatusChanged, ticket.ID, "ticket.status_changed",
		StatusChange{Ticket: ticket, From: from, To: ticket.Status})
}

// Observe publishes purchases that ended without a ticket. Completed
// purchases are announced by the ledger.
func (n *Notifier) Observe(ctx context.Context, t models.AttemptTransition) {
	if t.From == t.To {
		return
	}
	switch t.To {
	case models.AttemptFailed:
		n.publish(ctx, n.Topics.PurchaseFailed, t.Attempt.ID, "purchase.failed", t.Attempt)
	case models.AttemptUnrecorded:
		n.publish(ctx, n.Topics.PurchaseUnrecorded, t.Attempt.ID, "purchase.unrecorded", t.Attempt)
	}
}
