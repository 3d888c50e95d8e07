package handlers

import (
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/settings"
)

type SettingsHandler struct {
	svc    *settings.Service
	logger *slog.Logger
}

func NewSettingsHandler(svc *settings.Service, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{svc: svc, logger: logger}
}

func (h *SettingsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/availability-settings", h.Get)
	mux.HandleFunc("PUT /api/v1/availability-settings", h.Put)
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Get(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var in model.Settings
	if !decodeJSON(w, r, &in) {
		return
	}
	in.ActorID = actor
	out, err := h.svc.Put(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
