// Package handler turns HTTP requests into service calls and service
// results into JSON or HTML. Business rules live in the service package.
//
// HANDLER RESPONSIBILITIES:
// A handler does four things and nothing else:
//
//  1. read the caller (auth.UserIDFromContext) and the URL params (chi.URLParam)
//  2. decode the body: JSON via decodeJSON, images via multipart parts
//  3. call exactly one service method
//  4. write the result with writeJSON, or the error with writeError
//
// WHY MULTIPART PARTS INSTEAD OF r.ParseMultipartForm?
// The block editor sends an ordered image list where each slot is either a
// new file or the URL of an image that is already stored. ParseMultipartForm
// splits files and values into two maps and loses that order. Reading the
// parts one by one with r.MultipartReader keeps it, and lets us stop reading
// as soon as a limit is exceeded.
package handler

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/model"
	"github.com/sakif/linkblocks/internal/service"
	"github.com/sakif/linkblocks/internal/theme"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageHandler renders a creator's public page. Templates are parsed once at
// startup.
type PageHandler struct {
	templates *template.Template
	users     *service.AuthService
	blocks    *service.BlockService
	links     *service.LinkService
	comments  *service.CommentService
	themes    *service.ThemeService
	logger    *slog.Logger
}

type pageData struct {
	Owner        *model.User
	IsOwner      bool
	Style        theme.Style
	Links        []model.Link
	Blocks       []model.Block
	Participants int64
}

func NewPageHandler(
	users *service.AuthService,
	blocks *service.BlockService,
	links *service.LinkService,
	comments *service.CommentService,
	themes *service.ThemeService,
	logger *slog.Logger,
) (*PageHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/page.html")
	if err != nil {
		return nil, err
	}
	return &PageHandler{
		templates: tmpl,
		users:     users,
		blocks:    blocks,
		links:     links,
		comments:  comments,
		themes:    themes,
		logger:    logger,
	}, nil
}

// HandlePage handles GET /u/{uid}.
func (h *PageHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := chi.URLParam(r, "uid")
	viewerID, _ := auth.UserIDFromContext(ctx)

	owner, err := h.users.GetUserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.fail(w, "load page owner", err)
		return
	}

	pref, err := h.themes.Get(ctx, uid)
	if err != nil {
		h.fail(w, "load theme", err)
		return
	}
	links, err := h.links.ListForDisplay(ctx, uid)
	if err != nil {
		h.fail(w, "load links", err)
		return
	}
	blocks, err := h.blocks.ListByUser(ctx, uid, false)
	if err != nil {
		h.fail(w, "load blocks", err)
		return
	}
	count, err := h.comments.Count(ctx)
	if err != nil {
		h.fail(w, "load participant count", err)
		return
	}

	data := pageData{
		Owner:        owner,
		IsOwner:      viewerID == uid,
		Style:        theme.PageStyle(pref),
		Links:        links,
		Blocks:       blocks,
		Participants: count,
	}

	// Render into a buffer so a template error does not leave a half page.
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, "page.html", data); err != nil {
		h.fail(w, "render page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (h *PageHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", slog.String("error", err.Error()))
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
