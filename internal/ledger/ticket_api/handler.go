package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"eventtix/internal/auth"
	"eventtix/internal/ledger"
	"eventtix/internal/ledger/qr"
	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/payment"
	"eventtix/internal/purchase"
	"eventtix/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quoter prices a selection against the catalog.
type Quoter interface {
	Quote(ctx context.Context, userID string, sel models.TicketSelection) (*purchase.Quote, error)
}

type Handler struct {
	Service  *ledger.Service
	Quoter   Quoter
	Payments *payment.Registry
	QR       *qr.Generator
	Logger   *logger.Logger
}

type createTicketRequest struct {
	EventID          string            `json:"eventId"`
	Type             models.TicketType `json:"type"`
	Quantity         int               `json:"quantity"`
	TotalPrice       decimal.Decimal   `json:"totalPrice"`
	PaymentRail      string            `json:"paymentRail"`
	PaymentReference string            `json:"paymentReference"`
}

type updateTicketRequest struct {
	Status models.TicketStatus `json:"status"`
}

type checkinRequest struct {
	EncryptedQR string `json:"encrypted_qr"`
}

// CreateTicket records a ticket for a payment the client already completed.
// The selection and total are checked against the catalog, the reference is
// checked with its payment rail, and a reference can back only one ticket.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.PaymentReference == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("paymentReference is required", "tickets are only recorded for confirmed payments"))
		return
	}

	sel := models.TicketSelection{EventID: req.EventID, Type: req.Type, Quantity: req.Quantity}
	quote, err := h.Quoter.Quote(r.Context(), userID, sel)
	if err != nil {
		status := http.StatusInternalServerError
		switch purchase.KindOf(err) {
		case purchase.KindInvalidSelection:
			status = http.StatusBadRequest
		case purchase.KindUnauthorized:
			status = http.StatusUnauthorized
		}
		utils.WriteJSON(w, status, utils.ErrorResponse("Invalid ticket selection", err.Error()))
		return
	}
	if !quote.Total.Equal(req.TotalPrice) {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("totalPrice does not match the event price table",
			fmt.Sprintf("expected %s, got %s", quote.Total, req.TotalPrice)))
		return
	}

	proof, status, err := h.verify(r.Context(), userID, req, quote)
	if err != nil {
		h.Logger.LogSecurity("UNVERIFIED_PAYMENT", fmt.Sprintf("user=%s rail=%q ref=%q: %v", userID, req.PaymentRail, req.PaymentReference, err))
		utils.WriteJSON(w, status, utils.ErrorResponse("Payment could not be verified", err.Error()))
		return
	}

	ticket, err := h.Service.Create(r.Context(), &models.Ticket{
		ID:               uuid.New().String(),
		EventID:          sel.EventID,
		UserID:           userID,
		Type:             sel.Type,
		Quantity:         sel.Quantity,
		TotalPrice:       quote.Total,
		Status:           models.TicketActive,
		PaymentRail:      string(proof.Rail),
		PaymentReference: proof.Reference,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTicket) {
			utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Payment already recorded", err.Error()))
			return
		}
		h.Logger.Error("TICKETS", fmt.Sprintf("Failed to record ticket for %s ref %s: %v", userID, req.PaymentReference, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to create ticket", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, ticket)
}

// verify asks the payment rail whether the reference settled the quote for
// this user, and returns the status to answer with when it did not.
func (h *Handler) verify(ctx context.Context, userID string, req createTicketRequest, quote *purchase.Quote) (payment.Proof, int, error) {
	if h.Payments == nil {
		return payment.Proof{}, http.StatusBadRequest, fmt.Errorf("unsupported payment rail %q", req.PaymentRail)
	}
	verifier, err := h.Payments.Verifier(req.PaymentRail)
	if err != nil {
		return payment.Proof{}, http.StatusBadRequest, err
	}
	proof, err := verifier.Verify(ctx, req.PaymentReference, payment.Charge{
		Payer:     userID,
		Selection: quote.Selection,
		Amount:    quote.Total,
		Currency:  quote.Currency,
		Receiver:  quote.Receiver,
	})
	switch {
	case err == nil:
		return proof, http.StatusOK, nil
	case errors.Is(err, payment.ErrPayerMismatch):
		return payment.Proof{}, http.StatusForbidden, err
	case errors.Is(err, payment.ErrUnverified),
		errors.Is(err, payment.ErrInvalidAddress),
		errors.Is(err, payment.ErrInvalidAmount):
		return payment.Proof{}, http.StatusPaymentRequired, err
	}
	return payment.Proof{}, http.StatusBadGateway, err
}

// ListMyTickets returns the caller's tickets.
func (h *Handler) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Service.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, tickets)
}

func (h *Handler) ListAllTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Service.ListAll(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, tickets)
}

func (h *Handler) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	var req updateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	ticket, err := h.Service.UpdateStatus(r.Context(), ticketID, req.Status, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, ticket)
}

// TicketQR serves the ticket's QR code as a PNG.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Service.Get(r.Context(), chi.URLParam(r, "ticketId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	img, err := h.QR.PNG(ticket)
	if err != nil {
		h.writeError(w, fmt.Errorf("failed to generate QR: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// CheckinTicket marks the ticket in a scanned QR code as used.
// Expected POST request body: {"encrypted_qr": "base64_encrypted_string"}
func (h *Handler) CheckinTicket(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EncryptedQR == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("encrypted_qr is required", ""))
		return
	}
	payload, err := h.QR.Decrypt(req.EncryptedQR)
	if err != nil {
		h.Logger.LogSecurity("QR_REJECTED", err.Error())
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid QR code", err.Error()))
		return
	}
	ticket, err := h.Service.UpdateStatus(r.Context(), payload.TicketID, models.TicketUsed, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Checkin successful", ticket))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", err.Error()))
	case errors.Is(err, ledger.ErrAccessDenied):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Access denied", err.Error()))
	case errors.Is(err, ledger.ErrInvalidStatus):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid status", err.Error()))
	case errors.Is(err, ledger.ErrInvalidTransition), errors.Is(err, ledger.ErrStatusConflict):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Invalid status transition", err.Error()))
	default:
		h.Logger.Error("TICKETS", err.Error())
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal server error", err.Error()))
	}
}
