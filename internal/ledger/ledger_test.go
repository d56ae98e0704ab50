package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventtix/internal/ledger"
	"eventtix/internal/logger"
	"eventtix/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	args := m.Called(ctx, ticket)
	return args.Error(0)
}

func (m *MockStore) GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockStore) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockStore) UpdateStatus(ctx context.Context, ticketID string, from, to models.TicketStatus, at time.Time) error {
	args := m.Called(ctx, ticketID, from, to, at)
	return args.Error(0)
}

// ownerOrAdmin mirrors the production policy without a directory.
type ownerOrAdmin struct {
	admins map[string]bool
}

func (a ownerOrAdmin) CanModifyTicket(ctx context.Context, userID string, ticket *models.Ticket) (bool, error) {
	return userID != "" && (ticket.UserID == userID || a.admins[userID]), nil
}

func (a ownerOrAdmin) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return a.admins[userID], nil
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) TicketCreated(ctx context.Context, ticket *models.Ticket) {
	m.Called(ctx, ticket)
}

func (m *MockPublisher) TicketStatusChanged(ctx context.Context, ticket *models.Ticket, from models.TicketStatus) {
	m.Called(ctx, ticket, from)
}

type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(store *MockStore) *ledger.Service {
	svc := ledger.NewService(store, ownerOrAdmin{admins: map[string]bool{"admin-1": true}}, logger.Discard())
	svc.Now = func() time.Time { return fixedNow }
	return svc
}

func activeTicket() *models.Ticket {
	return &models.Ticket{
		ID:         "t-1",
		EventID:    "evt-1",
		UserID:     "user-1",
		Type:       models.TicketGeneral,
		Quantity:   2,
		TotalPrice: decimal.NewFromInt(2),
		Status:     models.TicketActive,
	}
}

func TestCreateTicket(t *testing.T) {
	store := new(MockStore)
	pub := new(MockPublisher)
	cache := new(MockInvalidator)
	svc := newService(store)
	svc.Publisher = pub
	svc.Cache = cache

	ticket := activeTicket()
	ticket.Status = ""
	store.On("CreateTicket", mock.Anything, ticket).Return(nil).Once()
	cache.On("Invalidate", mock.Anything, "evt-1").Return(errors.New("redis down")).Once()
	pub.On("TicketCreated", mock.Anything, ticket).Once()

	created, err := svc.Create(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.TicketActive, created.Status)
	assert.Equal(t, fixedNow, created.PurchasedAt)

	store.AssertExpectations(t)
	cache.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCreateTicketFailureIsNotPublished(t *testing.T) {
	store := new(MockStore)
	pub := new(MockPublisher)
	svc := newService(store)
	svc.Publisher = pub

	store.On("CreateTicket", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := svc.Create(context.Background(), activeTicket())
	assert.Error(t, err)
	pub.AssertNotCalled(t, "TicketCreated", mock.Anything, mock.Anything)
}

func TestUpdateStatusByOwner(t *testing.T) {
	store := new(MockStore)
	pub := new(MockPublisher)
	svc := newService(store)
	svc.Publisher = pub

	store.On("GetTicketByID", mock.Anything, "t-1").Return(activeTicket(), nil)
	store.On("UpdateStatus", mock.Anything, "t-1", models.TicketActive, models.TicketUsed, fixedNow).Return(nil).Once()
	pub.On("TicketStatusChanged", mock.Anything, mock.Anything, models.TicketActive).Once()

	updated, err := svc.UpdateStatus(context.Background(), "t-1", models.TicketUsed, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, updated.Status)
	assert.Equal(t, fixedNow, updated.UpdatedAt)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestUpdateStatusByAdmin(t *testing.T) {
	store := new(MockStore)
	svc := newService(store)

	store.On("GetTicketByID", mock.Anything, "t-1").Return(activeTicket(), nil)
	store.On("UpdateStatus", mock.Anything, "t-1", models.TicketActive, models.TicketRefunded, fixedNow).Return(nil).Once()

	updated, err := svc.UpdateStatus(context.Background(), "t-1", models.TicketRefunded, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketRefunded, updated.Status)
}

func TestUpdateStatusByStrangerIsDenied(t *testing.T) {
	store := new(MockStore)
	svc := newService(store)
	ticket := activeTicket()
	store.On("GetTicketByID", mock.Anything, "t-1").Return(ticket, nil)

	_, err := svc.UpdateStatus(context.Background(), "t-1", models.TicketCancelled, "user-2")
	assert.ErrorIs(t, err, ledger.ErrAccessDenied)
	assert.Equal(t, models.TicketActive, ticket.Status)
	store.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateStatusRejectsIllegalMoves(t *testing.T) {
	store := new(MockStore)
	svc := newService(store)
	used := activeTicket()
	used.Status = models.TicketUsed
	store.On("GetTicketByID", mock.Anything, "t-used").Return(used, nil)
	store.On("GetTicketByID", mock.Anything, "t-1").Return(activeTicket(), nil)
	store.On("GetTicketByID", mock.Anything, "missing").Return(nil, ledger.ErrNotFound)

	_, err := svc.UpdateStatus(context.Background(), "t-used", models.TicketActive, "user-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = svc.UpdateStatus(context.Background(), "t-used", models.TicketRefunded, "user-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = svc.UpdateStatus(context.Background(), "t-1", models.TicketActive, "user-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = svc.UpdateStatus(context.Background(), "t-1", "lost", "user-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidStatus)

	_, err = svc.UpdateStatus(context.Background(), "missing", models.TicketUsed, "user-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	store.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetAndListAll(t *testing.T) {
	store := new(MockStore)
	svc := newService(store)
	store.On("GetTicketByID", mock.Anything, "t-1").Return(activeTicket(), nil)
	store.On("ListTickets", mock.Anything).Return([]models.Ticket{*activeTicket()}, nil)

	_, err := svc.Get(context.Background(), "t-1", "user-1")
	assert.NoError(t, err)
	_, err = svc.Get(context.Background(), "t-1", "user-2")
	assert.ErrorIs(t, err, ledger.ErrAccessDenied)

	all, err := svc.ListAll(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	_, err = svc.ListAll(context.Background(), "user-1")
	assert.ErrorIs(t, err, ledger.ErrAccessDenied)
}
