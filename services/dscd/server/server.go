package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dscengine/crypto"
	"dscengine/services/dscd/middleware"
	"dscengine/services/dscd/node"
)

// Rate limit classes. Reads and writes are budgeted separately per client.
const (
	LimitRead  = "read"
	LimitWrite = "write"
)

// Options configures the HTTP surface. Nil collaborators fall back to
// permissive defaults: header-supplied callers, no rate limits and
// instrumentation off.
type Options struct {
	Auth          *middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	StreamOrigins []string
	Logger        *slog.Logger
}

// Server exposes a Node over HTTP.
type Server struct {
	node   *node.Node
	auth   *middleware.Authenticator
	limit  *middleware.RateLimiter
	obs    *middleware.Observability
	logger *slog.Logger
	router chi.Router
}

// New builds the router for n.
func New(n *node.Node, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := opts.Auth
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil, logger)
	}
	obs := opts.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, logger)
	}
	s := &Server{node: n, auth: auth, limit: limiter, obs: obs, logger: logger}
	s.router = s.routes(opts)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.CORS))
	r.Use(s.obs.Transport)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(s.limit.Middleware(LimitRead))
			read.With(s.obs.Middleware("engine.params")).Get("/engine/params", s.handleParams)
			read.With(s.obs.Middleware("accounts.liquidatable")).Get("/accounts/liquidatable", s.handleLiquidatable)
			read.With(s.obs.Middleware("accounts.get")).Get("/accounts/{addr}", s.handleAccount)
			read.With(s.obs.Middleware("tokens.balance")).Get("/tokens/{asset}/balances/{addr}", s.handleBalance)
			read.With(s.obs.Middleware("oracle.feed")).Get("/oracle/feeds/{feed}", s.handleFeed)
			read.With(s.obs.Middleware("events.query")).Get("/events", s.handleEvents)
			if hub := s.node.Hub(); hub != nil && s.node.Journal() != nil {
				read.With(s.obs.Middleware("events.stream")).Get("/events/stream", hub.Handler(s.backlog, opts.StreamOrigins))
			}
		})
		api.Group(func(write chi.Router) {
			write.Use(s.limit.Middleware(LimitWrite))
			write.Use(s.auth.Middleware(middleware.ScopeWrite))
			write.With(s.obs.Middleware("collateral.deposit")).Post("/collateral/deposit", s.handleDeposit)
			write.With(s.obs.Middleware("collateral.redeem")).Post("/collateral/redeem", s.handleRedeem)
			write.With(s.obs.Middleware("dsc.mint")).Post("/dsc/mint", s.handleMint)
			write.With(s.obs.Middleware("dsc.burn")).Post("/dsc/burn", s.handleBurn)
			write.With(s.obs.Middleware("positions.open")).Post("/positions/open", s.handleOpen)
			write.With(s.obs.Middleware("positions.close")).Post("/positions/close", s.handleClose)
			write.With(s.obs.Middleware("liquidate")).Post("/liquidate", s.handleLiquidate)
			write.With(s.obs.Middleware("tokens.approve")).Post("/tokens/approve", s.handleApprove)
		})
		api.Group(func(oracle chi.Router) {
			oracle.Use(s.limit.Middleware(LimitWrite))
			oracle.Use(s.auth.Middleware(middleware.ScopeOracle))
			oracle.With(s.obs.Middleware("oracle.push")).Post("/oracle/feeds/{feed}/rounds", s.handlePushRound)
		})
	})
	return r
}

func (s *Server) caller(r *http.Request) (crypto.Address, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return crypto.Address{}, errCallerRequired
	}
	return caller, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := toStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"requestid", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}
