package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/service"
)

type LinkHandler struct {
	links  *service.LinkService
	logger *slog.Logger
}

func NewLinkHandler(links *service.LinkService, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{links: links, logger: logger}
}

type linkRequest struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl"`
}

func (req linkRequest) input() service.LinkInput {
	return service.LinkInput{Title: req.Title, URL: req.URL, ImageURL: req.ImageURL}
}

// HandleListForDisplay handles GET /api/users/{uid}/links: the creator's
// links padded with placeholders to fill the grid.
func (h *LinkHandler) HandleListForDisplay(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.ListForDisplay(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		logFailure(h.logger, "list links", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

// HandleListMine handles GET /api/links without padding.
func (h *LinkHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	links, err := h.links.ListByUser(r.Context(), userID)
	if err != nil {
		logFailure(h.logger, "list links", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *LinkHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	link, err := h.links.Create(r.Context(), userID, req.input())
	if err != nil {
		logFailure(h.logger, "create link", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *LinkHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	link, err := h.links.Update(r.Context(), userID, chi.URLParam(r, "id"), req.input())
	if err != nil {
		logFailure(h.logger, "update link", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *LinkHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := h.links.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		logFailure(h.logger, "delete link", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
