package event_api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventtix/internal/catalog"
	"eventtix/internal/catalog/event_api"
	"eventtix/internal/logger"
	"eventtix/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockProvider) ListEvents(ctx context.Context) ([]models.Event, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1)
}

func router(p catalog.Provider) http.Handler {
	h := &event_api.Handler{Catalog: p, Logger: logger.Discard()}
	r := chi.NewRouter()
	r.Get("/events", h.ListEvents)
	r.Get("/events/{eventId}", h.GetEvent)
	return r
}

func TestGetEvent(t *testing.T) {
	p := new(MockProvider)
	p.On("GetEvent", mock.Anything, "evt-1").Return(&models.Event{
		ID: "evt-1", Title: "Summit",
		Prices: models.PriceTable{General: decimal.RequireFromString("0.1"), VIP: decimal.RequireFromString("2")},
	}, nil)
	p.On("GetEvent", mock.Anything, "nope").Return(nil, catalog.ErrEventNotFound)
	p.On("GetEvent", mock.Anything, "boom").Return(nil, errors.New("db down"))
	r := router(p)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/evt-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data models.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.Prices.General.Equal(decimal.RequireFromString("0.1")))
	assert.Contains(t, w.Body.String(), `"general":"0.1"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListEvents(t *testing.T) {
	p := new(MockProvider)
	p.On("ListEvents", mock.Anything).Return([]models.Event{{ID: "a"}, {ID: "b"}}, nil)

	w := httptest.NewRecorder()
	router(p).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}
