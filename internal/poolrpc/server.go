package poolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"shieldpool/internal/orchestrator"
	"shieldpool/internal/pool"
	"shieldpool/internal/transactions"
)

// Limiter decides whether a sender may make another request.
type Limiter interface {
	Allow(senderID string) bool
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Address string
	Logger  zerolog.Logger
	Limiter Limiter
	// OnConfirmed runs after every confirmed submission, e.g. to persist
	// the pool.
	OnConfirmed func(txID string)
	// Health, when set, backs GET /healthz instead of the default reply.
	Health http.Handler
}

// Server exposes a pool over HTTP.
type Server struct {
	cfg    ServerConfig
	pool   *pool.Pool
	log    zerolog.Logger
	server *http.Server
}

// NewServer wraps p.
func NewServer(p *pool.Pool, cfg ServerConfig) *Server {
	return &Server{cfg: cfg, pool: p, log: cfg.Logger.With().Str("component", "poolrpc").Logger()}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", s.messageHandler)
	if s.cfg.Health != nil {
		mux.Handle("GET /healthz", s.cfg.Health)
	} else {
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	return mux
}

// Start listens on cfg.Address and serves in the background. The returned
// address is the one actually bound.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info().Str("addr", listener.Addr().String()).Msg("server starting")
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server failed")
		}
		s.log.Info().Msg("server stopped")
	}()
	return listener.Addr().String(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&msg); err != nil {
		s.log.Debug().Err(err).Msg("bad request body")
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body", Code: "bad_request"})
		return
	}
	if s.cfg.Limiter != nil && !s.cfg.Limiter.Allow(msg.SenderID) {
		writeJSON(w, http.StatusTooManyRequests, Response{Error: ErrRateLimited.Error(), Code: codeOf(ErrRateLimited)})
		return
	}

	log := s.log.With().Str("type", msg.Type).Str("sender", msg.SenderID).Logger()
	log.Debug().Msg("message received")

	switch msg.Type {
	case TypeDeposit, TypeWithdraw:
		var sub orchestrator.Submission
		if err := json.Unmarshal(msg.Payload, &sub); err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Error: "invalid submission payload", Code: "bad_request"})
			return
		}
		if sub.Kind != transactions.Kind(msg.Type) {
			writeJSON(w, http.StatusBadRequest, Response{
				Error: fmt.Sprintf("payload kind %q does not match message type", sub.Kind),
				Code:  "bad_request",
			})
			return
		}
		txID, err := s.pool.Submit(r.Context(), &sub)
		if err != nil {
			writeJSON(w, statusFor(err), Response{Error: err.Error(), Code: codeOf(err)})
			return
		}
		if s.cfg.OnConfirmed != nil {
			s.cfg.OnConfirmed(txID)
		}
		writeJSON(w, http.StatusOK, Response{OK: true, TxID: txID})

	case TypeStatus:
		st := s.pool.Status()
		writeJSON(w, http.StatusOK, Response{OK: true, Status: &st})

	default:
		log.Warn().Msg("unknown message type")
		writeJSON(w, http.StatusBadRequest, Response{Error: "unknown message type " + msg.Type, Code: "bad_request"})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrPoolPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrInvalidSubmission), errors.Is(err, pool.ErrCircuitMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusConflict
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
