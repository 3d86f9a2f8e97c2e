package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/linkblocks/internal/service"
)

// CommentHandler serves the public comment board. None of its routes need
// a session; deleting a comment needs the password chosen when posting it.
type CommentHandler struct {
	comments *service.CommentService
	logger   *slog.Logger
}

func NewCommentHandler(comments *service.CommentService, logger *slog.Logger) *CommentHandler {
	return &CommentHandler{comments: comments, logger: logger}
}

type createCommentRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
	Comment  string `json:"comment"`
}

type deleteCommentRequest struct {
	Password string `json:"password"`
}

// HandleList handles GET /api/comments.
func (h *CommentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	comments, err := h.comments.List(r.Context())
	if err != nil {
		logFailure(h.logger, "list comments", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// HandleCount handles GET /api/comments/count.
func (h *CommentHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.comments.Count(r.Context())
	if err != nil {
		logFailure(h.logger, "read participant counter", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// HandleCreate handles POST /api/comments. The response carries the
// comment id that HandleDelete expects.
func (h *CommentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid comment body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	comment, err := h.comments.Create(r.Context(), req.Nickname, req.Password, req.Comment)
	if err != nil {
		logFailure(h.logger, "create comment", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// HandleDelete handles DELETE /api/comments/{token} with {"password": "..."}.
func (h *CommentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.comments.Delete(r.Context(), chi.URLParam(r, "token"), req.Password); err != nil {
		logFailure(h.logger, "delete comment", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
