// Package gateway exposes the workflows over HTTP. A caller POSTs
// {"action": "<workflow>", "params": {...}} to /webhook and receives a JSON
// envelope with the run result or the error.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/auth"
	"github.com/haasonsaas/adpilot/internal/config"
	"github.com/haasonsaas/adpilot/internal/mcp"
	"github.com/haasonsaas/adpilot/internal/observability"
	"github.com/haasonsaas/adpilot/internal/ratelimit"
	"github.com/haasonsaas/adpilot/internal/workflows"
)

// WorkflowRunner runs a named workflow. *workflows.Runner implements it.
type WorkflowRunner interface {
	Run(ctx context.Context, name string, params map[string]any) (*agent.RunResult, error)
}

// BridgeStatus reports the Ads bridge lifecycle state. *mcp.Bridge implements it.
type BridgeStatus interface {
	State() mcp.State
}

// Request is the webhook body.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Envelope is the body of every webhook response.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Server serves /webhook, /healthz and /metrics.
type Server struct {
	config  config.GatewayConfig
	runner  WorkflowRunner
	bridge  BridgeStatus
	jwt     *auth.JWTService
	limiter *ratelimit.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	inFlight atomic.Int64
}

// Option customizes a Server.
type Option func(*Server)

// WithBridge reports the bridge state on /healthz.
func WithBridge(b BridgeStatus) Option {
	return func(s *Server) { s.bridge = b }
}

// WithMetrics serves /metrics and counts webhook requests.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server. Bearer JWT auth is enforced when cfg.Auth carries a secret.
func New(cfg config.GatewayConfig, runner WorkflowRunner, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		runner: runner,
		jwt: auth.NewJWTService(auth.Config{
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		}),
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	if s.config.MaxBodyBytes <= 0 {
		s.config.MaxBodyBytes = 1 << 20
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/webhook", auth.Middleware(s.jwt, s.logger, s.authFailed)(http.HandlerFunc(s.handleWebhook)))
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully,
// waiting up to the configured shutdown timeout for running workflows.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		// Running workflows keep going during shutdown; Shutdown waits for them.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down http server", "in_flight", s.inFlight.Load())
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := observability.AddRequestID(r.Context(), requestID)
	logger := s.logger.With("request_id", requestID)
	action := "unknown"

	respond := func(status int, env Envelope) {
		env.RequestID = requestID
		s.metrics.RecordWebhookRequest(action, strconv.Itoa(status))
		s.writeJSON(w, status, env)
	}
	fail := func(status int, msg string) {
		respond(status, Envelope{Success: false, Error: msg})
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		fail(http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limiter.Allow(clientKey(r)) {
		fail(http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusBadRequest, "request body too large")
			return
		}
		fail(http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Action == "" {
		fail(http.StatusBadRequest, "action is required")
		return
	}
	if _, ok := workflows.Lookup(req.Action); !ok {
		fail(http.StatusBadRequest, fmt.Sprintf("%v: %q", workflows.ErrUnknownWorkflow, req.Action))
		return
	}
	action = req.Action

	if claims, ok := auth.ClaimsFromContext(ctx); ok && !claims.Allows(action) {
		logger.Warn("action not granted by token", "action", action, "subject", claims.Subject)
		fail(http.StatusForbidden, auth.ErrForbidden.Error())
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	started := s.now()
	logger.Info("webhook workflow started", "action", action)
	result, err := s.runner.Run(ctx, action, req.Params)
	if err != nil {
		logger.Warn("webhook workflow failed", "action", action, "error", err, "duration", time.Since(started))
		fail(http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("webhook workflow finished", "action", action, "run_id", result.RunID, "duration", time.Since(started))
	respond(http.StatusOK, Envelope{Success: true, Data: result})
}

func (s *Server) authFailed(w http.ResponseWriter, _ *http.Request, status int, err error) {
	s.metrics.RecordWebhookRequest("unknown", strconv.Itoa(status))
	s.writeJSON(w, status, Envelope{Success: false, Error: err.Error()})
}

// Health is the /healthz body.
type Health struct {
	Status   string `json:"status"`
	Bridge   string `json:"bridge,omitempty"`
	InFlight int64  `json:"in_flight"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "ok", InFlight: s.inFlight.Load()}
	status := http.StatusOK
	if s.bridge != nil {
		state := s.bridge.State()
		h.Bridge = state.String()
		if state != mcp.StateReady {
			h.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(h)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env Envelope) {
	env.Timestamp = s.now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func clientKey(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return "sub:" + claims.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
