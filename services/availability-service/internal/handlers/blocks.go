package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/blocks"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
)

type BlockHandler struct {
	svc    *blocks.Service
	logger *slog.Logger
}

func NewBlockHandler(svc *blocks.Service, logger *slog.Logger) *BlockHandler {
	return &BlockHandler{svc: svc, logger: logger}
}

func (h *BlockHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/calendar-blocks", h.Create)
	mux.HandleFunc("GET /api/v1/calendar-blocks", h.List)
	mux.HandleFunc("DELETE /api/v1/calendar-blocks/{id}", h.Deactivate)
}

type createBlockRequest struct {
	Title     string `json:"title"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	BlockType string `json:"blockType"`
	CreatedBy string `json:"createdBy"`
}

type createBlockResponse struct {
	BlockID string `json:"blockId"`
}

type listBlocksResponse struct {
	Blocks []model.CalendarBlock `json:"blocks"`
}

func (h *BlockHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req createBlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		badRequest(w, model.ReasonInvalidRequest, "invalid startTime")
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		badRequest(w, model.ReasonInvalidRequest, "invalid endTime")
		return
	}

	id, err := h.svc.Create(r.Context(), actor, req.Title, start, end, req.BlockType, req.CreatedBy)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBlockResponse{BlockID: id})
}

func (h *BlockHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListActiveOverlapping(r.Context(), actor, from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if out == nil {
		out = []model.CalendarBlock{}
	}
	writeJSON(w, http.StatusOK, listBlocksResponse{Blocks: out})
}

func (h *BlockHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Deactivate(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
