package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/service"
)

const stateCookieName = "oauth_state"

// AuthHandler runs the GitHub login for creators. Visitors never sign in.
//
//   - HandleGitHubLogin    → redirect to GitHub with a state cookie
//   - HandleGitHubCallback → check state, exchange the code, set the session cookie
//   - HandleLogout         → clear the session cookie
//   - HandleMe             → the signed-in creator
type AuthHandler struct {
	github        *auth.GitHubProvider
	auth          *service.AuthService
	sessionTTL    time.Duration
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler builds the handler. sessionTTL should match the token
// lifetime so the cookie and the JWT expire together.
func NewAuthHandler(github *auth.GitHubProvider, authService *service.AuthService, sessionTTL time.Duration, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		github:        github,
		auth:          authService,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleGitHubLogin handles GET /auth/github/login.
//
// The random state is kept in a short-lived HttpOnly cookie and compared on
// callback, which ties the callback to a login this browser started.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback handles GET /auth/github/callback?code=&state=.
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: authorization denied", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	result, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.Int64("githubID", ghUser.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/u/"+result.User.ID, http.StatusSeeOther)
}

// HandleLogout handles POST /auth/logout. Sessions are stateless, so this
// only deletes the cookie; the token itself stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe handles GET /api/me.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("sign in required"))
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		logFailure(h.logger, "load current user", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
