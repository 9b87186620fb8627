package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fixedswap/native/swap"
	"fixedswap/observability"
	"fixedswap/observability/logging"
	"fixedswap/services/swapd/events"
	"fixedswap/services/swapd/identity"
	"fixedswap/services/swapd/idempotency"
	"fixedswap/services/swapd/journal"
	"fixedswap/services/swapd/storage"
)

const (
	maxBodyBytes    = 64 << 10
	janitorInterval = time.Minute
	shutdownTimeout = 5 * time.Second
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	TLS           TLSConfig
	RateLimit     RateLimitConfig
}

// TLSConfig describes listener TLS settings.
type TLSConfig struct {
	Disabled bool
	CertFile string
	KeyFile  string
	Config   *tls.Config
}

// Ledger is the custody view the server needs beyond swap.Store.
type Ledger interface {
	swap.Store
	Holdings(ctx context.Context, owner common.Address) ([]storage.Holding, error)
	Ping(ctx context.Context) error
}

// History lists journaled swaps.
type History interface {
	ListSwaps(ctx context.Context, filter journal.Filter) ([]swap.Receipt, error)
}

// Dependencies wires the server to the engine and its collaborators.
// Operators, Journal, Events and Idempotency are optional.
type Dependencies struct {
	Engine      *swap.Engine
	Ledger      Ledger
	Identity    *identity.Verifier
	Operators   *Authenticator
	Journal     History
	Events      *events.Hub
	Idempotency *idempotency.Replayer
}

// Server hosts the swap API, the event stream and health endpoints.
type Server struct {
	cfg     Config
	deps    Dependencies
	limiter *RateLimiter
	router  http.Handler
}

// New constructs a new HTTP server.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("swap engine required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if deps.Identity == nil {
		return nil, errors.New("identity verifier required")
	}
	srv := &Server{cfg: cfg, deps: deps, limiter: NewRateLimiter(cfg.RateLimit)}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/pairs", s.handleListPairs)
			public.Get("/pairs/{x}/{y}", s.handleGetPair)
			public.Get("/pairs/{x}/{y}/quote", s.handleQuote)
			public.Get("/pairs/{x}/{y}/vaults", s.handleVaults)
			public.Get("/swaps", s.handleListSwaps)
			if s.deps.Events != nil {
				public.Handle("/stream", s.deps.Events.Handler())
			}
		})
		v1.Group(func(authed chi.Router) {
			authed.Use(s.requireCaller)
			authed.Use(s.limiter.Middleware)
			authed.Get("/balances", s.handleBalances)
			authed.Group(func(mutating chi.Router) {
				mutating.Use(s.idempotent)
				mutating.Post("/pairs", s.handleInitialize)
				mutating.Put("/pairs/{x}/{y}/price", s.handleUpdatePrice)
				mutating.Patch("/pairs/{x}/{y}/params", s.handleUpdateParams)
				mutating.Post("/pairs/{x}/{y}/swap/exact-in", s.handleSwapExactIn)
				mutating.Post("/pairs/{x}/{y}/swap/exact-out", s.handleSwapExactOut)
			})
		})
	})

	r.Route("/ops", func(ops chi.Router) {
		ops.Use(s.deps.Operators.Middleware)
		ops.Use(s.idempotent)
		ops.Post("/credit", s.handleCredit)
	})

	return otelhttp.NewHandler(r, "swapd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		TLSConfig:         s.cfg.TLS.Config,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.janitor(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("swapd http server listening", "listen", s.cfg.ListenAddress, "tls", !s.cfg.TLS.Disabled)
	var err error
	if s.cfg.TLS.Disabled {
		err = srv.ListenAndServe()
	} else {
		err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
			if removed, err := s.deps.Idempotency.Purge(); err != nil {
				slog.Warn("idempotency purge failed", "error", err)
			} else if removed > 0 {
				slog.Debug("idempotency records purged", "count", removed)
			}
		}
	}
}

func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.deps.Identity.Authenticate(r)
		if err != nil {
			slog.Debug("caller authentication failed",
				"route", r.URL.Path,
				"error", err,
				logging.MaskField("authorization", r.Header.Get("Authorization")))
			writeError(w, http.StatusUnauthorized, "unauthenticated", "", "valid caller token required")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
	})
}

func (s *Server) idempotent(next http.Handler) http.Handler {
	if s.deps.Idempotency == nil {
		return next
	}
	return s.deps.Idempotency.Middleware(next)
}

// CallerScope identifies the idempotency scope of a request: the verified
// caller for swap routes, the operator principal for /ops.
func CallerScope(r *http.Request) string {
	if caller, ok := identity.CallerFromContext(r.Context()); ok {
		return strings.ToLower(caller.Hex())
	}
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		return principal.Method + ":" + principal.Subject
	}
	return ""
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTP().Observe(routePattern(r), r.Method, status, time.Since(began))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
