package stats_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/stats"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*stats.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := bunDB.NewCreateTable().Model((*models.Ticket)(nil)).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to create ticket table: %v", err)
	}
	t.Cleanup(func() { bunDB.Close() })
	return &stats.DB{Bun: bunDB}, bunDB
}

func seed(t *testing.T, bunDB *bun.DB, typ models.TicketType, status models.TicketStatus, qty int, total string) {
	_, err := bunDB.NewInsert().Model(&models.Ticket{
		ID: uuid.New().String(), EventID: "evt-1", UserID: "user-1", Type: typ, Quantity: qty,
		TotalPrice: decimal.RequireFromString(total), Status: status, PurchasedAt: time.Now(),
	}).Exec(context.Background())
	require.NoError(t, err)
}

func TestTicketStats(t *testing.T) {
	statsDB, bunDB := setupTestDB(t)
	seed(t, bunDB, models.TicketGeneral, models.TicketActive, 2, "2")
	seed(t, bunDB, models.TicketVIP, models.TicketActive, 1, "2.5")
	seed(t, bunDB, models.TicketVIP, models.TicketRefunded, 3, "7.5")
	seed(t, bunDB, models.TicketGeneral, models.TicketUsed, 1, "1")

	s, err := statsDB.TicketStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalTickets)
	assert.Equal(t, 2, s.ActiveTickets)
	assert.True(t, s.TotalRevenue.Equal(decimal.RequireFromString("13")), s.TotalRevenue.String())

	require.Len(t, s.ByType, 2)
	assert.Equal(t, models.TicketGeneral, s.ByType[0].Type)
	assert.Equal(t, 3, s.ByType[0].Quantity)
	assert.Equal(t, models.TicketVIP, s.ByType[1].Type)
	assert.True(t, s.ByType[1].Revenue.Equal(decimal.NewFromInt(10)))

	count, err := statsDB.GetTotalTicketsCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestEmptyLedger(t *testing.T) {
	statsDB, _ := setupTestDB(t)
	h := &stats.Handler{DB: statsDB, Logger: logger.Discard()}

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var s models.TicketStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Zero(t, s.TotalTickets)
	assert.True(t, s.TotalRevenue.IsZero())
	assert.Empty(t, s.ByStatus)

	w = httptest.NewRecorder()
	h.GetTotalTicketsCount(w, httptest.NewRequest(http.MethodGet, "/tickets/count", nil))
	assert.JSONEq(t, `{"total_count":0}`, w.Body.String())
}
