package event_api

import (
	"errors"
	"net/http"

	"eventtix/internal/catalog"
	"eventtix/internal/logger"
	"eventtix/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Catalog catalog.Provider
	Logger  *logger.Logger
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Catalog.ListEvents(r.Context())
	if err != nil {
		h.Logger.Error("CATALOG", err.Error())
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to list events", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Events retrieved", events))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.Catalog.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
	if errors.Is(err, catalog.ErrEventNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", err.Error()))
		return
	}
	if err != nil {
		h.Logger.Error("CATALOG", err.Error())
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load event", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event retrieved", event))
}
