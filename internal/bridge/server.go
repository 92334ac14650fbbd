// Package bridge exposes one host session over HTTP, WebSocket and NATS so
// callers that cannot spawn native messaging hosts can still reach it.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DevGitPit/supertonic/internal/audio"
	"github.com/DevGitPit/supertonic/internal/config"
	"github.com/DevGitPit/supertonic/internal/protocol"
	"github.com/DevGitPit/supertonic/internal/telemetry"
)

const maxRequestBytes = 1 << 20

// Caller is a host session.
type Caller interface {
	CallRaw(ctx context.Context, body []byte) ([]byte, error)
	Healthy() bool
}

type Server struct {
	cfg        config.BridgeConfig
	host       Caller
	metrics    http.Handler
	inst       *telemetry.Instruments
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

// New builds a bridge. metrics may be nil.
func New(cfg config.BridgeConfig, host Caller, metrics http.Handler, inst *telemetry.Instruments, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		host:    host,
		metrics: metrics,
		inst:    inst,
		logger:  logger.With(slog.String("component", "bridge")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}
	return s
}

// Handler returns the HTTP routes of the bridge.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleLive)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/synthesize", s.handleSynthesize)
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start serves HTTP until ctx ends, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Bind, s.cfg.HTTP.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
			errCh <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("bridge started", slog.String("addr", addr))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	s.ready.Store(false)
	s.logger.Info("bridge stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	s.wg.Wait()
	return runErr
}

// Forward sends one request document to the host and returns the response
// document. Transport failures are reported as error documents.
func (s *Server) Forward(ctx context.Context, transport string, body []byte) []byte {
	start := time.Now()
	ctx, span := s.inst.Start(ctx, "bridge."+transport)
	defer span.End()

	if timeout := time.Duration(s.cfg.RequestTimeoutMS) * time.Millisecond; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outcome := telemetry.OutcomeOK
	resp, err := s.host.CallRaw(ctx, body)
	if err != nil {
		outcome = telemetry.OutcomeError
		s.logger.Error("host call failed", slog.String("transport", transport), slog.String("error", err.Error()))
		resp, _ = protocol.Failure("host unavailable: " + err.Error()).Marshal()
	}
	s.inst.Record(ctx, transport, outcome, time.Since(start))
	return resp
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			return
		}
		if origin != "" && allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.setCORS(w, r)
	writeJSON(w, http.StatusOK, []byte(`{"status":"ok"}`))
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() && s.host.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r)
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeFailure(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	req, err := protocol.Decode(body)
	if err != nil {
		payload, _ := protocol.ParseFailure(err).Marshal()
		writeJSON(w, http.StatusBadRequest, payload)
		return
	}
	if !req.Has(protocol.FieldCommand) {
		req[protocol.FieldCommand] = protocol.CommandSynthesize
	}
	if body, err = protocol.Encode(req); err != nil {
		s.writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := s.Forward(r.Context(), "http", body)
	if r.URL.Query().Get("format") != "wav" {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.writeWAV(w, resp)
}

func (s *Server) writeWAV(w http.ResponseWriter, resp []byte) {
	doc, err := protocol.Decode(resp)
	if err != nil {
		s.writeFailure(w, http.StatusBadGateway, "decode host response: "+err.Error())
		return
	}
	encoded := doc.String(protocol.FieldAudio, "")
	if encoded == "" {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	pcm, err := audio.DecodePCM(encoded)
	if err != nil {
		s.writeFailure(w, http.StatusBadGateway, err.Error())
		return
	}
	wav, err := audio.RenderWAV(pcm, int(doc.Uint32(protocol.FieldSampleRate, 0)))
	if err != nil {
		s.writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, msg string) {
	payload, err := protocol.Failure(msg).Marshal()
	if err != nil {
		s.logger.Error("failed to encode error response", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
