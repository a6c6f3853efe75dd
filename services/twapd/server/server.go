package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"slidingoracle/native/twap"
	"slidingoracle/observability"
	"slidingoracle/services/twapd/feeconfig"
)

// Oracle is the TWAP surface exposed over HTTP.
type Oracle interface {
	Update(ctx context.Context, pair, caller common.Address) error
	Consult(ctx context.Context, tokenIn common.Address, amountIn *uint256.Int, tokenOut common.Address) (*uint256.Int, error)
	UpdateIncentiveAmount(ctx context.Context) (*uint256.Int, error)
	Observations(pair common.Address) []twap.Observation
	WindowSpan(pair common.Address) (uint64, bool)
}

// FeeRefresher pushes a freshly converted fee schedule.
type FeeRefresher interface {
	Refresh(ctx context.Context) (feeconfig.Schedule, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Config defines HTTP server parameters. Pairs lists the pairs that public
// update requests may name; any other pair is rejected before it reaches the
// oracle.
type Config struct {
	ListenAddress string
	RateLimit     RateLimit
	Pairs         []common.Address
}

// Server hosts the oracle API, admin and health endpoints for twapd.
type Server struct {
	cfg       Config
	oracle    Oracle
	logger    *log.Logger
	adminAuth *Authenticator
	limiter   *RateLimiter
	pairs     map[common.Address]struct{}
	fees      FeeRefresher
	health    HealthChecker
	metrics   *observability.TWAPMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithFeeRefresher enables the admin fee refresh endpoint.
func WithFeeRefresher(f FeeRefresher) Option {
	return func(s *Server) {
		s.fees = f
	}
}

// WithHealthCheck makes /healthz probe the supplied dependency.
func WithHealthCheck(h HealthChecker) Option {
	return func(s *Server) {
		s.health = h
	}
}

// New constructs a new HTTP server.
func New(cfg Config, oracle Oracle, logger *log.Logger, auth *Authenticator, opts ...Option) (*Server, error) {
	if oracle == nil {
		return nil, fmt.Errorf("oracle required")
	}
	if auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if logger == nil {
		logger = log.Default()
	}
	srv := &Server{
		cfg:       cfg,
		oracle:    oracle,
		logger:    logger,
		adminAuth: auth,
		limiter:   NewRateLimiter(cfg.RateLimit),
		pairs:     make(map[common.Address]struct{}, len(cfg.Pairs)),
		metrics:   observability.TWAP(),
	}
	for _, pair := range cfg.Pairs {
		srv.pairs[pair] = struct{}{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}
	return srv, nil
}

// Handler builds the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(v1 chi.Router) {
		v1.With(s.limiter.Middleware).Post("/update", s.handleUpdate)
		v1.Get("/consult", s.handleConsult)
		v1.Get("/incentive", s.handleIncentive)
		v1.Get("/pairs/{pair}/observations", s.handleObservations)
	})
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.adminAuth.Middleware)
		admin.Post("/fees/refresh", s.handleFeeRefresh)
	})
	return otelhttp.NewHandler(r, "twapd.http")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("twapd: http server listening on %s", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateRequest struct {
	Pair   string `json:"pair"`
	Caller string `json:"caller"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	pair, err := parseAddress("pair", req.Pair)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := s.pairs[pair]; !ok {
		http.Error(w, fmt.Sprintf("pair %s is not tracked", pair.Hex()), http.StatusBadRequest)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start := time.Now()
	err = s.oracle.Update(r.Context(), pair, caller)
	s.metrics.ObserveUpdate(pair, time.Since(start), err)
	span, complete := s.oracle.WindowSpan(pair)
	s.metrics.SetWindowSpan(pair, span, complete)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"pair": pair.Hex(), "status": "recorded"})
	case errors.Is(err, twap.ErrIncentiveTransfer):
		s.logger.Printf("twapd: update %s: %v", pair.Hex(), err)
		writeJSON(w, http.StatusOK, map[string]string{"pair": pair.Hex(), "status": "recorded", "incentive_error": err.Error()})
	default:
		s.writeOracleError(w, "update", err)
	}
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tokenIn, err := parseAddress("token_in", query.Get("token_in"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokenOut, err := parseAddress("token_out", query.Get("token_out"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rawAmount := strings.TrimSpace(query.Get("amount_in"))
	amountIn, err := uint256.FromDecimal(rawAmount)
	if rawAmount == "" || err != nil {
		http.Error(w, "invalid amount_in", http.StatusBadRequest)
		return
	}
	start := time.Now()
	amountOut, err := s.oracle.Consult(r.Context(), tokenIn, amountIn, tokenOut)
	s.metrics.ObserveConsult(time.Since(start), err)
	if err != nil {
		s.writeOracleError(w, "consult", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token_in":   tokenIn.Hex(),
		"token_out":  tokenOut.Hex(),
		"amount_in":  amountIn.Dec(),
		"amount_out": amountOut.Dec(),
	})
}

func (s *Server) handleIncentive(w http.ResponseWriter, r *http.Request) {
	amount, err := s.oracle.UpdateIncentiveAmount(r.Context())
	if err != nil {
		s.writeOracleError(w, "incentive", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.Dec()})
}

type observationView struct {
	Slot              int    `json:"slot"`
	Timestamp         uint64 `json:"timestamp"`
	CumulativeForward string `json:"cumulative_forward"`
	CumulativeReverse string `json:"cumulative_reverse"`
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	pair, err := parseAddress("pair", chi.URLParam(r, "pair"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ring := s.oracle.Observations(pair)
	if ring == nil {
		http.Error(w, "pair has no observations", http.StatusNotFound)
		return
	}
	views := make([]observationView, 0, len(ring))
	for i, obs := range ring {
		views = append(views, observationView{
			Slot:              i,
			Timestamp:         obs.Timestamp,
			CumulativeForward: obs.CumulativeForward.Dec(),
			CumulativeReverse: obs.CumulativeReverse.Dec(),
		})
	}
	span, complete := s.oracle.WindowSpan(pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"pair":          pair.Hex(),
		"window_span":   span,
		"window_filled": complete,
		"observations":  views,
	})
}

func (s *Server) handleFeeRefresh(w http.ResponseWriter, r *http.Request) {
	if s.fees == nil {
		http.Error(w, "fee updater disabled", http.StatusNotFound)
		return
	}
	schedule, err := s.fees.Refresh(r.Context())
	if err != nil {
		s.writeOracleError(w, "fee refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"term":       schedule.Term,
		"fee_token":  schedule.FeeToken.Hex(),
		"draft_fee":  schedule.DraftFee.Dec(),
		"settle_fee": schedule.SettleFee.Dec(),
		"appeal_fee": schedule.AppealFee.Dec(),
	})
}

func (s *Server) writeOracleError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("twapd: %s failed: %v", op, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": observability.Outcome(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, twap.ErrAlreadyUpdatedThisPeriod):
		return http.StatusConflict
	case errors.Is(err, twap.ErrMissingHistoricalObservation):
		return http.StatusTooEarly
	case errors.Is(err, twap.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, twap.ErrIdenticalTokens), errors.Is(err, twap.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, twap.ErrUnexpectedTimeElapsed):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
