package purchase_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"eventtix/internal/auth"
	"eventtix/internal/logger"
	"eventtix/internal/models"
	"eventtix/internal/payment"
	"eventtix/internal/payment/wallet"
	"eventtix/internal/purchase"
	"eventtix/internal/purchase/store"
	"eventtix/internal/sse"
	"eventtix/internal/utils"

	"github.com/go-chi/chi/v5"
)

const idempotencyHeader = "Idempotency-Key"

type Handler struct {
	Runner    *purchase.Runner
	Events    *sse.AttemptEventEmitter
	Journal   *store.Journal
	Wallet    wallet.Submitter
	Logger    *logger.Logger
	Heartbeat time.Duration
}

type startPurchaseRequest struct {
	EventID  string            `json:"eventId"`
	Type     models.TicketType `json:"type"`
	Quantity int               `json:"quantity"`
	Method   string            `json:"method"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Phone    string            `json:"phone"`
}

// StartPurchase validates and prices the selection, then collects payment in
// the background. The response carries the attempt to follow.
func (h *Handler) StartPurchase(w http.ResponseWriter, r *http.Request) {
	var req startPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	principal, _ := auth.FromContext(r.Context())
	contact := payment.Contact{Email: req.Email, Name: req.Name, Phone: req.Phone}
	if contact.Email == "" {
		contact.Email = principal.Email
	}

	attempt, duplicate, err := h.Runner.Start(r.Context(), purchase.StartRequest{
		UserID:         principal.UserID,
		Method:         req.Method,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
		Selection:      models.TicketSelection{EventID: req.EventID, Type: req.Type, Quantity: req.Quantity},
		Contact:        contact,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if duplicate {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Purchase already submitted", attempt))
		return
	}
	w.Header().Set("Location", "/purchases/"+attempt.ID)
	utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("Purchase started", attempt))
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.Runner.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "attemptId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Purchase retrieved", attempt))
}

// StreamPurchase follows an attempt over server-sent events.
func (h *Handler) StreamPurchase(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.Runner.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "attemptId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Events.Stream(w, r, *attempt, h.Heartbeat)
}

type walletSubmissionRequest struct {
	TxHash string `json:"txHash"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitWalletTransaction is where the buyer's browser reports the
// transaction its wallet sent for an attempt, or the error it returned.
func (h *Handler) SubmitWalletTransaction(w http.ResponseWriter, r *http.Request) {
	if h.Wallet == nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Wallet payments are not enabled", ""))
		return
	}
	attempt, err := h.Runner.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "attemptId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if attempt.Method != string(payment.RailWallet) || attempt.State != models.AttemptAwaitingPayment {
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Attempt is not waiting for a wallet transaction",
			fmt.Sprintf("attempt %s is %s via %s", attempt.ID, attempt.State, attempt.Method)))
		return
	}

	var req walletSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	sub := wallet.Submission{AttemptID: attempt.ID, TxHash: req.TxHash}
	if req.Error != nil {
		sub.ErrorCode = req.Error.Code
		sub.ErrorMessage = req.Error.Message
	}
	if sub.TxHash == "" && sub.ErrorCode == 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "txHash or error is required"))
		return
	}

	if err := h.Wallet.Submit(r.Context(), sub); err != nil {
		if errors.Is(err, wallet.ErrNotWaiting) {
			utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Attempt is not waiting for a wallet transaction", err.Error()))
			return
		}
		h.writeError(w, err)
		return
	}
	h.Logger.LogPurchase("WALLET_SUBMITTED", attempt.ID, fmt.Sprintf("tx=%q error=%d", sub.TxHash, sub.ErrorCode))
	utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("Wallet transaction received", map[string]string{
		"attemptId": attempt.ID,
		"txHash":    sub.TxHash,
	}))
}

// ListReconciliation returns payments that moved without a ticket. Pass
// ?all=true to include resolved entries.
func (h *Handler) ListReconciliation(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Journal.List(r.Context(), r.URL.Query().Get("all") == "true")
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d entries", len(entries)), entries))
}

func (h *Handler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptId")
	if err := h.Journal.Resolve(r.Context(), attemptID); err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Entry not found", err.Error()))
			return
		}
		h.writeError(w, err)
		return
	}
	h.Logger.LogPurchase("RECONCILED", attemptID, fmt.Sprintf("resolved by %s", auth.UserID(r.Context())))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Entry resolved", nil))
}

func statusFor(kind purchase.Kind) int {
	switch kind {
	case purchase.KindInvalidSelection, purchase.KindInvalidAddress:
		return http.StatusBadRequest
	case purchase.KindUnauthorized:
		return http.StatusUnauthorized
	case purchase.KindAccessDenied:
		return http.StatusForbidden
	case purchase.KindNotFound:
		return http.StatusNotFound
	case purchase.KindDuplicateAttempt:
		return http.StatusConflict
	case purchase.KindPaymentRejected, purchase.KindPaymentCancelled, purchase.KindPaymentNetworkError:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, purchase.ErrShuttingDown) {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Service is shutting down", err.Error()))
		return
	}
	kind := purchase.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.Logger.Error("PURCHASE", err.Error())
		utils.WriteJSON(w, status, utils.ErrorResponse("Internal server error", err.Error()))
		return
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(string(kind), err.Error()))
}
