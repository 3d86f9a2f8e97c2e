package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/attachment"
	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/service"
)

// maxBlockBody leaves room for MaxImages full-size images plus the text
// fields.
const maxBlockBody = service.MaxImages*maxImageBytes + 1<<20

// BlockHandler serves the challenge and reservation editors.
type BlockHandler struct {
	blocks *service.BlockService
	logger *slog.Logger
}

func NewBlockHandler(blocks *service.BlockService, logger *slog.Logger) *BlockHandler {
	return &BlockHandler{blocks: blocks, logger: logger}
}

// HandleCreate handles POST /api/blocks/{kind}.
//
// The body is multipart/form-data. Text fields are title, description,
// startDate, endDate, numberOfPeople and pickDate. Each "images" part is
// either a file or a plain value holding the URL of an image that is
// already stored; parts keep their order.
func (h *BlockHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	kind := model.BlockKind(chi.URLParam(r, "kind"))

	in, err := h.parseForm(w, r)
	if err != nil {
		h.writeFormError(w, err)
		return
	}

	block, err := h.blocks.Create(r.Context(), userID, kind, in)
	if err != nil {
		logFailure(h.logger, "create block", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

// HandleUpdate handles PUT /api/blocks/{id}. The images list replaces the
// stored one; URLs not repeated are dropped and their files deleted.
func (h *BlockHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	in, err := h.parseForm(w, r)
	if err != nil {
		h.writeFormError(w, err)
		return
	}

	block, err := h.blocks.Update(r.Context(), userID, id, in)
	if err != nil {
		logFailure(h.logger, "update block", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// HandleDelete handles DELETE /api/blocks/{id}?confirm=true. The editor
// asks the creator first; the query flag makes that explicit on the wire.
func (h *BlockHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirm {
		writeError(w, apperror.ValidationFailed("confirm", "deleting a block needs confirm=true"))
		return
	}

	if err := h.blocks.Delete(r.Context(), userID, id); err != nil {
		logFailure(h.logger, "delete block", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGet handles GET /api/blocks/{id}.
func (h *BlockHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())
	block, err := h.blocks.Get(r.Context(), viewerID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// HandleListMine handles GET /api/blocks: every block of the signed-in
// creator, including ones still pending or being deleted.
func (h *BlockHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	blocks, err := h.blocks.ListByUser(r.Context(), userID, true)
	if err != nil {
		logFailure(h.logger, "list blocks", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// HandleListByUser handles GET /api/users/{uid}/blocks for visitors.
func (h *BlockHandler) HandleListByUser(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.blocks.ListByUser(r.Context(), chi.URLParam(r, "uid"), false)
	if err != nil {
		logFailure(h.logger, "list blocks", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// HandleNextID handles GET /api/blocks/next-id.
func (h *BlockHandler) HandleNextID(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	next, err := h.blocks.NextID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"blockId": next})
}

func (h *BlockHandler) parseForm(w http.ResponseWriter, r *http.Request) (service.BlockInput, error) {
	var in service.BlockInput

	mr, err := multipartReader(w, r, maxBlockBody)
	if err != nil {
		return in, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return in, err
		}

		switch name := part.FormName(); {
		case name == "images" && part.FileName() != "":
			f, err := readFilePart(part)
			if err != nil {
				return in, err
			}
			in.Images = append(in.Images, attachment.FileItem(f))
		case name == "images":
			v, err := readFieldPart(part)
			if err != nil {
				return in, err
			}
			if v = strings.TrimSpace(v); v != "" {
				in.Images = append(in.Images, attachment.URLItem(v))
			}
		default:
			v, err := readFieldPart(part)
			if err != nil {
				return in, err
			}
			if err := setBlockField(&in, name, v); err != nil {
				return in, err
			}
		}
		part.Close()

		if len(in.Images) > service.MaxImages {
			return in, apperror.ValidationFailed("images", fmt.Sprintf("you can attach up to %d images", service.MaxImages))
		}
	}
	return in, nil
}

func setBlockField(in *service.BlockInput, name, value string) error {
	switch name {
	case "title":
		in.Title = value
	case "description":
		in.Description = value
	case "startDate":
		in.StartDate = value
	case "endDate":
		in.EndDate = value
	case "pickDate":
		in.PickDate = value
	case "numberOfPeople":
		value = strings.TrimSpace(value)
		if value == "" {
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return apperror.ValidationFailed("numberOfPeople", "number of people must be a whole number")
		}
		in.NumberOfPeople = n
	}
	return nil
}

func (h *BlockHandler) writeFormError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		writeError(w, err)
	case isBodyTooLarge(err):
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "too_large",
			Message: "the upload is too large",
		})
	default:
		h.logger.Warn("malformed block form", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "malformed form data"))
	}
}
