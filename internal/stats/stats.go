// Package stats summarizes the ticket ledger for administrators.
package stats

import (
	"context"
	"fmt"
	"net/http"

	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// GetTotalTicketsCount returns the total count of tickets in the database
func (d *DB) GetTotalTicketsCount(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Count(ctx)
}

// TicketStats counts tickets by status and type. Revenue covers every
// ticket ever sold, refunded and cancelled ones included.
func (d *DB) TicketStats(ctx context.Context) (*models.TicketStats, error) {
	byStatus := []models.StatusBreakdown{}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS tickets").
		ColumnExpr("COALESCE(SUM(total_price), 0) AS revenue").
		Group("status").
		Order("status").
		Scan(ctx, &byStatus)
	if err != nil {
		return nil, fmt.Errorf("count tickets by status: %w", err)
	}

	byType := []models.TypeBreakdown{}
	err = d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("type").
		ColumnExpr("COUNT(*) AS tickets").
		ColumnExpr("COALESCE(SUM(quantity), 0) AS quantity").
		ColumnExpr("COALESCE(SUM(total_price), 0) AS revenue").
		Group("type").
		Order("type").
		Scan(ctx, &byType)
	if err != nil {
		return nil, fmt.Errorf("count tickets by type: %w", err)
	}

	out := &models.TicketStats{TotalRevenue: decimal.Zero, ByStatus: byStatus, ByType: byType}
	for _, s := range byStatus {
		out.TotalTickets += s.Tickets
		out.TotalRevenue = out.TotalRevenue.Add(s.Revenue)
		if s.Status == models.TicketActive {
			out.ActiveTickets = s.Tickets
		}
	}
	return out, nil
}

type Handler struct {
	DB     *DB
	Logger *logger.Logger
}

// TicketCountResponse is the response format for the GetTotalTicketsCount endpoint
type TicketCountResponse struct {
	TotalCount int `json:"total_count"`
}

func (h *Handler) GetTotalTicketsCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.DB.GetTotalTicketsCount(r.Context())
	if err != nil {
		http.Error(w, "Error retrieving ticket count: "+err.Error(), http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, http.StatusOK, TicketCountResponse{TotalCount: count})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.DB.TicketStats(r.Context())
	if err != nil {
		h.Logger.Error("STATS", err.Error())
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Error retrieving ticket stats", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}
