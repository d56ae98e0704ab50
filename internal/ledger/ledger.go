// Package ledger is the durable record of issued tickets. It is the only
// writer of ticket rows and the single source of truth for ticket status.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventtix/internal/logger"
	"eventtix/internal/models"
)

var (
	ErrNotFound          = errors.New("ticket not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid ticket status")
	// ErrDuplicateTicket is returned when a ticket id or payment reference is
	// already recorded.
	ErrDuplicateTicket = errors.New("ticket already recorded")
	// ErrStatusConflict means the ticket changed status between read and write.
	ErrStatusConflict = errors.New("ticket status changed concurrently")
)

// Store persists tickets.
type Store interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error)
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	// UpdateStatus moves the ticket only if it is still in status from.
	UpdateStatus(ctx context.Context, ticketID string, from, to models.TicketStatus, at time.Time) error
}

// Access is the access-control collaborator consulted before status changes.
type Access interface {
	CanModifyTicket(ctx context.Context, userID string, ticket *models.Ticket) (bool, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Publisher is told about ticket changes after they are committed.
type Publisher interface {
	TicketCreated(ctx context.Context, ticket *models.Ticket)
	TicketStatusChanged(ctx context.Context, ticket *models.Ticket, from models.TicketStatus)
}

// Invalidator drops cached event data once tickets sell.
type Invalidator interface {
	Invalidate(ctx context.Context, eventID string) error
}

type Service struct {
	Store     Store
	Access    Access
	Publisher Publisher
	Cache     Invalidator
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewService(store Store, access Access, log *logger.Logger) *Service {
	return &Service{Store: store, Access: access, Logger: log, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Create records a ticket. It is called once per confirmed payment.
func (s *Service) Create(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	if ticket.PurchasedAt.IsZero() {
		ticket.PurchasedAt = s.now()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketActive
	}
	if err := s.Store.CreateTicket(ctx, ticket); err != nil {
		s.Logger.LogLedger("CREATE_FAILED", ticket.ID, fmt.Sprintf("event %s ref %s: %v", ticket.EventID, ticket.PaymentReference, err))
		return nil, err
	}
	s.Logger.LogLedger("CREATE", ticket.ID, fmt.Sprintf("%d x %s for event %s, user %s, %s", ticket.Quantity, ticket.Type, ticket.EventID, ticket.UserID, ticket.TotalPrice))

	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, ticket.EventID); err != nil {
			s.Logger.Warn("LEDGER", fmt.Sprintf("Failed to invalidate cached event %s: %v", ticket.EventID, err))
		}
	}
	if s.Publisher != nil {
		s.Publisher.TicketCreated(ctx, ticket)
	}
	return ticket, nil
}

// Get returns a ticket its owner or an admin may see.
func (s *Service) Get(ctx context.Context, ticketID, requester string) (*models.Ticket, error) {
	ticket, err := s.Store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Access.CanModifyTicket(ctx, requester, ticket)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: ticket %s", ErrAccessDenied, ticketID)
	}
	return ticket, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	tickets, err := s.Store.GetTicketsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for user %s: %w", userID, err)
	}
	return tickets, nil
}

// ListAll returns every ticket with its owner. Admin only.
func (s *Service) ListAll(ctx context.Context, requester string) ([]models.Ticket, error) {
	ok, err := s.Access.IsAdmin(ctx, requester)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	return s.Store.ListTickets(ctx)
}

// UpdateStatus changes a ticket's status when the requester is allowed to
// and the move is legal. A denied or illegal update leaves the ticket as it
// was.
func (s *Service) UpdateStatus(ctx context.Context, ticketID string, status models.TicketStatus, requester string) (*models.Ticket, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	ticket, err := s.Store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	ok, err := s.Access.CanModifyTicket(ctx, requester, ticket)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Logger.LogSecurity("TICKET_UPDATE_DENIED", fmt.Sprintf("%s tried to set ticket %s to %s", requester, ticketID, status))
		return nil, fmt.Errorf("%w: ticket %s", ErrAccessDenied, ticketID)
	}

	from := ticket.Status
	if !from.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}

	at := s.now()
	if err := s.Store.UpdateStatus(ctx, ticketID, from, status, at); err != nil {
		return nil, err
	}
	ticket.Status = status
	ticket.UpdatedAt = at
	s.Logger.LogLedger("STATUS", ticketID, fmt.Sprintf("%s -> %s by %s", from, status, requester))

	if s.Publisher != nil {
		s.Publisher.TicketStatusChanged(ctx, ticket, from)
	}
	return ticket, nil
}
