// Package web implements the HTTP server of the permit board: JSON API and static front-end
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/permits/app/history"
	"github.com/umputun/permits/app/permit"
)

//go:embed static/*
var staticFS embed.FS

// Registry provides board operations
type Registry interface {
	Status() permit.Document
	Summary() permit.Summary
	SetConfig(ctx context.Context, raw []byte) (permit.Document, error)
	Open(ctx context.Context, req permit.OpenRequest) (permit.Document, error)
	Close(ctx context.Context, id string) (permit.Document, error)
}

// HistoryProvider lists recorded board events
type HistoryProvider interface {
	List(ctx context.Context, limit int) ([]history.Event, error)
}

// Server represents the web server
type Server struct {
	registry     Registry
	history      HistoryProvider
	assets       fs.FS
	reserved     map[string]bool
	dataDir      string
	passwordHash string
	limit        float64
	plant        string
	version      string
	startedAt    time.Time
}

// Config holds server configuration
type Config struct {
	Registry     Registry
	History      HistoryProvider // nil disables history endpoint
	StaticDir    string          // directory overriding embedded front-end, empty for embedded
	Reserved     []string        // file names never served as static assets
	DataDir      string          // directory reported by health endpoint
	PasswordHash string          // bcrypt hash for basic auth of mutating endpoints (empty to disable)
	Limit        float64         // mutating requests per second per client, 0 to disable
	Plant        string          // plant name shown in UI
	Version      string
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("web server initialization failed: registry is required")
	}

	assets, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: can't open embedded assets: %w", err)
	}
	if cfg.StaticDir != "" {
		st, err := os.Stat(cfg.StaticDir)
		if err != nil || !st.IsDir() {
			return nil, fmt.Errorf("web server initialization failed: static location %q is not a directory", cfg.StaticDir)
		}
		assets = os.DirFS(cfg.StaticDir)
		log.Printf("[INFO] serving static files from %s", cfg.StaticDir)
	}

	reserved := make(map[string]bool, len(cfg.Reserved))
	for _, r := range cfg.Reserved {
		if r != "" {
			reserved[r] = true
		}
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}

	return &Server{
		registry:     cfg.Registry,
		history:      cfg.History,
		assets:       assets,
		reserved:     reserved,
		dataDir:      dataDir,
		passwordHash: cfg.PasswordHash,
		limit:        cfg.Limit,
		plant:        cfg.Plant,
		version:      cfg.Version,
		startedAt:    time.Now(),
	}, nil
}

// Run starts the web server and blocks until context is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("permits", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		api.HandleFunc("GET /status", s.handleStatus)
		api.HandleFunc("GET /summary", s.handleSummary)
		api.HandleFunc("GET /history", s.handleHistory)
		api.HandleFunc("GET /health", s.handleHealth)

		// mutating endpoints, optionally rate limited and protected by basic auth
		mut := api
		if mws := s.mutationMiddlewares(); len(mws) > 0 {
			mut = api.With(mws[0], mws[1:]...)
		}
		mut.HandleFunc("POST /config", s.handleConfig)
		mut.HandleFunc("POST /open", s.handleOpen)
		mut.HandleFunc("POST /close", s.handleClose)
	})

	router.HandleFunc("GET /", s.handleStatic)
	return router
}

// mutationMiddlewares returns rate limiter and auth for POST endpoints, if enabled
func (s *Server) mutationMiddlewares() []func(http.Handler) http.Handler {
	res := []func(http.Handler) http.Handler{}
	if s.limit > 0 {
		lmt := tollbooth.NewLimiter(s.limit, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
		lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
		lmt.SetMessage(`{"error":"too many requests"}`)
		lmt.SetMessageContentType("application/json")
		res = append(res, tollbooth.HTTPMiddleware(lmt))
	}
	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for mutating endpoints")
		res = append(res, s.authMiddleware)
	}
	return res
}
