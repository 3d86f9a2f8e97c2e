// Package server is the composition root: it opens the configured backends,
// builds services and handlers, mounts the routes and runs the HTTP server
// until SIGINT or SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/sakif/linkblocks/internal/attachment"
	"github.com/sakif/linkblocks/internal/auth"
	"github.com/sakif/linkblocks/internal/blob"
	"github.com/sakif/linkblocks/internal/blob/gcs"
	"github.com/sakif/linkblocks/internal/blob/local"
	"github.com/sakif/linkblocks/internal/config"
	"github.com/sakif/linkblocks/internal/handler"
	"github.com/sakif/linkblocks/internal/imaging"
	"github.com/sakif/linkblocks/internal/janitor"
	"github.com/sakif/linkblocks/internal/middleware"
	"github.com/sakif/linkblocks/internal/repository"
	"github.com/sakif/linkblocks/internal/repository/firestoredb"
	sqliteRepo "github.com/sakif/linkblocks/internal/repository/sqlite"
	"github.com/sakif/linkblocks/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Services is every business service, built once per process. The CLI
// uses it without the HTTP layer.
type Services struct {
	Auth     *service.AuthService
	Blocks   *service.BlockService
	Comments *service.CommentService
	Links    *service.LinkService
	Themes   *service.ThemeService
}

// Backends are the opened stores. Close releases both.
type Backends struct {
	Store repository.Store
	Blobs blob.Store

	// Files serves the local blob store; nil for GCS.
	Files     http.Handler
	closeBlob func() error
}

func (b *Backends) Close() error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.closeBlob != nil {
		errs = append(errs, b.closeBlob())
	}
	return errors.Join(errs...)
}

// OpenBackends opens the document store and blob store selected in cfg.
func OpenBackends(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	switch cfg.StoreBackend {
	case config.BackendFirestore:
		db, err := firestoredb.Open(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, err
		}
		b.Store = db
	default:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		b.Store = db
	}

	switch cfg.BlobBackend {
	case config.BlobGCS:
		store, err := gcs.Open(ctx, cfg.GCSBucket)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Blobs, b.closeBlob = store, store.Close
	default:
		store, err := local.New(cfg.BlobDir, cfg.BlobBaseURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Blobs = store
		b.Files = http.FileServer(http.Dir(store.Root()))
	}

	return b, nil
}

// NewServices wires the services on top of opened backends.
func NewServices(cfg *config.Config, b *Backends, tokens *auth.TokenService, logger *slog.Logger) *Services {
	// Block images are stored as sent; backgrounds are shrunk first.
	blockFiles := attachment.New(b.Blobs, logger)
	backgrounds := attachment.New(b.Blobs, logger, attachment.WithCompression(imaging.DefaultOptions))

	return &Services{
		Auth:     service.NewAuthService(b.Store.Users(), tokens, logger),
		Blocks:   service.NewBlockService(b.Store.Blocks(), blockFiles, logger),
		Comments: service.NewCommentService(b.Store.Comments(), auth.NewPasswordService(), logger),
		Links:    service.NewLinkService(b.Store.Links(), cfg.LinkPlaceholderImage, logger),
		Themes:   service.NewThemeService(b.Store.Themes(), backgrounds, cfg.ThemeSampleImage, logger),
	}
}

// Server owns the router, the backends and the background jobs.
type Server struct {
	router   *chi.Mux
	handler  http.Handler
	config   *config.Config
	logger   *slog.Logger
	backends *Backends
	services *Services
	tokens   *auth.TokenService
	limiter  *middleware.RateLimiter
	janitor  *janitor.Job
}

// New opens the backends and builds the router. The caller owns the result
// and must call Start, or Close if it never starts.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	backends, err := OpenBackends(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening backends: %w", err)
	}

	s, err := newWithBackends(cfg, backends, logger)
	if err != nil {
		backends.Close()
		return nil, err
	}
	return s, nil
}

func newWithBackends(cfg *config.Config, backends *Backends, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	tokens = tokens.WithTTL(cfg.SessionTTL)

	services := NewServices(cfg, backends, tokens, logger)

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		backends: backends,
		services: services,
		tokens:   tokens,
		limiter:  middleware.NewRateLimiter(cfg.CommentRatePerMinute, cfg.CommentRateBurst, logger),
		janitor:  janitor.New(services.Blocks, services.Comments, cfg.JanitorInterval, cfg.JanitorGrace, logger),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	s.handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler(s.router)

	return s, nil
}

// Handler is the full HTTP handler including CORS.
func (s *Server) Handler() http.Handler { return s.handler }

// setupRoutes mounts every route. Middleware order: request id, real IP
// (the rate limiter keys on it), panic recovery, access log.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	if s.backends.Files != nil && strings.HasPrefix(s.config.BlobBaseURL, "/") {
		prefix := s.config.BlobBaseURL + "/"
		s.router.Handle(prefix+"*", http.StripPrefix(prefix, s.backends.Files))
	}

	svc := s.services
	requireAuth := auth.RequireAuth(s.tokens)
	optionalAuth := auth.OptionalAuth(s.tokens)

	page, err := handler.NewPageHandler(svc.Auth, svc.Blocks, svc.Links, svc.Comments, svc.Themes, s.logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}
	s.router.With(optionalAuth).Get("/u/{uid}", page.HandlePage)

	authHandler := handler.NewAuthHandler(
		auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL),
		svc.Auth, s.tokens.TTL(), s.config.SecureCookies, s.logger,
	)
	if s.config.AuthEnabled() {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	} else {
		s.logger.Warn("GitHub OAuth not configured, creator login is disabled")
	}
	s.router.Post("/auth/logout", authHandler.HandleLogout)

	blocks := handler.NewBlockHandler(svc.Blocks, s.logger)
	comments := handler.NewCommentHandler(svc.Comments, s.logger)
	links := handler.NewLinkHandler(svc.Links, s.logger)
	themes := handler.NewThemeHandler(svc.Themes, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		// Public.
		r.Get("/users/{uid}/blocks", blocks.HandleListByUser)
		r.Get("/users/{uid}/links", links.HandleListForDisplay)
		r.With(optionalAuth).Get("/blocks/{id}", blocks.HandleGet)

		r.Get("/comments", comments.HandleList)
		r.Get("/comments/count", comments.HandleCount)
		r.With(s.limiter.Middleware).Post("/comments", comments.HandleCreate)
		r.With(s.limiter.Middleware).Delete("/comments/{token}", comments.HandleDelete)

		// Creator only.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/me", authHandler.HandleMe)

			r.Get("/blocks", blocks.HandleListMine)
			r.Get("/blocks/next-id", blocks.HandleNextID)
			r.Post("/blocks/{kind}", blocks.HandleCreate)
			r.Put("/blocks/{id}", blocks.HandleUpdate)
			r.Delete("/blocks/{id}", blocks.HandleDelete)

			r.Get("/links", links.HandleListMine)
			r.Post("/links", links.HandleCreate)
			r.Put("/links/{id}", links.HandleUpdate)
			r.Delete("/links/{id}", links.HandleDelete)

			r.Get("/theme", themes.HandleGet)
			r.Post("/theme/staging", themes.HandleOpen)
			r.Patch("/theme/staging", themes.HandleStage)
			r.Delete("/theme/staging", themes.HandleClose)
			r.Post("/theme/staging/background", themes.HandleUploadBackground)
			r.Post("/theme/staging/apply", themes.HandleApply)
		})
	})

	return nil
}

// Close releases the backends of a server that was never started.
func (s *Server) Close() error {
	return s.backends.Close()
}

// Start serves HTTP and runs the janitor and the limiter cleanup until a
// shutdown signal arrives, then drains requests for up to 30 seconds and
// closes the backends.
func (s *Server) Start() error {
	defer s.backends.Close()

	jobs, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	s.janitor.Start(jobs)
	defer s.janitor.Stop()
	go s.limiter.Run(jobs)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second, // multipart uploads
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("store", s.config.StoreBackend),
			slog.String("blobs", s.config.BlobBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
