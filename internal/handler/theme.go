package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/attachment"
	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/service"
)

// ThemeHandler exposes the theme settings panel: open it, stage edits,
// then apply or discard them.
type ThemeHandler struct {
	themes *service.ThemeService
	logger *slog.Logger
}

func NewThemeHandler(themes *service.ThemeService, logger *slog.Logger) *ThemeHandler {
	return &ThemeHandler{themes: themes, logger: logger}
}

type stageRequest struct {
	Choice          service.Choice `json:"choice"`
	BackgroundImage string         `json:"backgroundImage"`
}

// HandleGet handles GET /api/theme.
func (h *ThemeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	pref, err := h.themes.Get(r.Context(), userID)
	if err != nil {
		logFailure(h.logger, "get theme", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// HandleOpen handles POST /api/theme/staging.
func (h *ThemeHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	staged, err := h.themes.OpenStaging(r.Context(), userID)
	if err != nil {
		logFailure(h.logger, "open theme staging", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staged)
}

// HandleStage handles PATCH /api/theme/staging.
func (h *ThemeHandler) HandleStage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req stageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	staged, err := h.themes.Stage(r.Context(), userID, req.Choice, req.BackgroundImage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staged)
}

// HandleUploadBackground handles POST /api/theme/staging/background with a
// multipart "file" part.
func (h *ThemeHandler) HandleUploadBackground(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	f, err := h.readBackground(w, r)
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "too_large", Message: "the upload is too large"})
			return
		}
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			h.logger.Warn("malformed background upload", slog.String("error", err.Error()))
			err = apperror.ValidationFailed("file", "malformed upload")
		}
		writeError(w, err)
		return
	}

	staged, err := h.themes.UploadBackground(r.Context(), userID, f)
	if err != nil {
		logFailure(h.logger, "upload background", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staged)
}

// HandleClose handles DELETE /api/theme/staging.
func (h *ThemeHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	h.themes.CloseStaging(userID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleApply handles POST /api/theme/staging/apply.
func (h *ThemeHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	applied, err := h.themes.ApplyStaging(r.Context(), userID)
	if err != nil {
		logFailure(h.logger, "apply theme", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (h *ThemeHandler) readBackground(w http.ResponseWriter, r *http.Request) (*attachment.File, error) {
	mr, err := multipartReader(w, r, maxImageBytes+1<<20)
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, apperror.ValidationFailed("file", "an image file is required")
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return readFilePart(part)
		}
		part.Close()
	}
}
