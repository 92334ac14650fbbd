// Package host runs the native messaging dispatch loop: one framed request in,
// one framed response out, strictly in order.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DevGitPit/supertonic/internal/audio"
	"github.com/DevGitPit/supertonic/internal/config"
	"github.com/DevGitPit/supertonic/internal/engine"
	"github.com/DevGitPit/supertonic/internal/eventstore"
	"github.com/DevGitPit/supertonic/internal/nativemsg"
	"github.com/DevGitPit/supertonic/internal/protocol"
	"github.com/DevGitPit/supertonic/internal/telemetry"
)

// Options carries the optional collaborators of a Host.
type Options struct {
	Logger      *slog.Logger
	Instruments *telemetry.Instruments
	Journal     *eventstore.Store
	// SessionID identifies this process in the journal. Generated when empty.
	SessionID string
	// Exists overrides the model directory existence check.
	Exists func(string) bool
}

type Host struct {
	cfg     config.Config
	engine  engine.Engine
	state   engine.State
	reader  *nativemsg.Reader
	writer  *nativemsg.Writer
	logger  *slog.Logger
	inst    *telemetry.Instruments
	journal *eventstore.Store
	session string
	exists  func(string) bool
}

// outcome is everything known about one handled request.
type outcome struct {
	command  string
	response protocol.Response
	samples  int
	after    func()
}

func New(cfg config.Config, eng engine.Engine, in io.Reader, out io.Writer, opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	session := opts.SessionID
	if session == "" {
		session = uuid.NewString()
	}
	exists := opts.Exists
	if exists == nil {
		exists = engine.PathExists
	}
	return &Host{
		cfg:     cfg,
		engine:  eng,
		reader:  nativemsg.NewReader(in, cfg.Protocol.MaxMessageBytes),
		writer:  nativemsg.NewWriter(out),
		logger:  logger.With(slog.String("component", "host"), slog.String("session_id", session)),
		inst:    opts.Instruments,
		journal: opts.Journal,
		session: session,
		exists:  exists,
	}
}

// SessionID returns the journal session of this host.
func (h *Host) SessionID() string { return h.session }

// Serve processes requests until the input ends. A clean end of input returns
// nil; framing and write failures are returned and end the session.
func (h *Host) Serve(ctx context.Context) error {
	h.logger.Info("host ready")
	for {
		body, err := h.reader.ReadMessage()
		if errors.Is(err, io.EOF) {
			h.logger.Info("input closed, shutting down")
			return nil
		}
		if err != nil {
			h.logger.Error("failed to read message", slog.String("error", err.Error()))
			return fmt.Errorf("read message: %w", err)
		}
		if err := h.serveOne(ctx, body); err != nil {
			return err
		}
	}
}

func (h *Host) serveOne(ctx context.Context, body []byte) error {
	start := time.Now()
	requestID := uuid.NewString()
	ctx, span := h.inst.Start(ctx, "host.dispatch")
	defer span.End()

	out := h.dispatch(ctx, body)
	span.SetAttributes(
		attribute.String("command", out.command),
		attribute.String("request_id", requestID),
	)

	payload, err := out.response.Marshal()
	if err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
		out.response = protocol.Failure(err.Error())
		if payload, err = out.response.Marshal(); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
	if err := h.writer.WriteMessage(payload); err != nil {
		h.logger.Error("failed to write response", slog.String("error", err.Error()))
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("write response: %w", err)
	}
	if out.after != nil {
		out.after()
	}

	result := telemetry.OutcomeOK
	if out.response.Failed() {
		result = telemetry.OutcomeError
		span.SetStatus(codes.Error, out.response.Err())
	}
	elapsed := time.Since(start)
	h.inst.Record(ctx, out.command, result, elapsed)
	h.inst.AddSamples(ctx, out.samples)
	h.record(ctx, requestID, out, result, elapsed)
	return nil
}

// Handle dispatches a single request body. The returned func, when non-nil,
// must run after the response has been delivered.
func (h *Host) Handle(ctx context.Context, body []byte) (protocol.Response, func()) {
	out := h.dispatch(ctx, body)
	return out.response, out.after
}

func (h *Host) dispatch(ctx context.Context, body []byte) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("request handler panicked", slog.String("command", out.command), slog.Any("panic", r))
			out.response = protocol.Failure(fmt.Sprintf("internal error: %v", r))
			out.samples = 0
		}
	}()

	req, err := protocol.Decode(body)
	if err != nil {
		h.logger.Warn("failed to decode request", slog.String("error", err.Error()))
		out.response = protocol.ParseFailure(err)
		return out
	}

	out.command = req.String(protocol.FieldCommand, "")
	switch out.command {
	case protocol.CommandInitialize:
		out.response = h.initialize(ctx, req)
	case protocol.CommandSynthesize:
		h.synthesize(ctx, req, &out)
	case protocol.CommandPing:
		out.response = protocol.Success(protocol.StatusPong)
	default:
		h.logger.Debug("unknown command", slog.String("command", out.command))
		out.response = protocol.Failure(protocol.MessageUnknownCommand)
	}
	return out
}

func (h *Host) initialize(ctx context.Context, req protocol.Document) protocol.Response {
	requested := req.String(protocol.FieldOnnxDir, h.cfg.Engine.ModelDir)
	dir := engine.ResolveModelDir(requested, h.cfg.Engine.ModelDirFallbacks, h.exists)
	if dir != requested {
		h.logger.Info("model directory not found, using fallback",
			slog.String("requested", requested),
			slog.String("model_dir", dir))
	}

	handle, err := h.engine.Initialize(ctx, dir, h.cfg.Engine.UseGPU)
	if err != nil {
		h.logger.Warn("engine initialization failed", slog.String("model_dir", dir), slog.String("error", err.Error()))
		return protocol.Failure(err.Error())
	}
	h.state.Set(handle)
	h.logger.Info("engine initialized",
		slog.String("model_dir", dir),
		slog.Int("sample_rate", int(handle.SampleRate())))
	return protocol.Success(protocol.StatusInitialized)
}

func (h *Host) synthesize(ctx context.Context, req protocol.Document, out *outcome) {
	handle, ok := h.state.Get()
	if !ok {
		out.response = protocol.Failure(engine.ErrNotInitialized.Error())
		return
	}
	text := req.String(protocol.FieldText, "")
	if text == "" {
		out.response = protocol.Failure(protocol.MessageTextEmpty)
		return
	}
	stylePath := req.String(protocol.FieldVoiceStylePath, "")
	if stylePath == "" {
		out.response = protocol.Failure(protocol.MessageStyleEmpty)
		return
	}
	out.after = h.engine.ReleaseTransientBuffers

	style, err := h.engine.LoadVoiceStyle(ctx, []string{stylePath}, false)
	if err != nil {
		h.logger.Warn("failed to load voice style", slog.String("path", stylePath), slog.String("error", err.Error()))
		out.response = protocol.Failure(err.Error())
		return
	}

	synthReq := engine.SynthRequest{
		Text:      text,
		Lang:      req.String(protocol.FieldLang, h.cfg.Engine.DefaultLang),
		Style:     style,
		TotalStep: req.Int(protocol.FieldTotalStep, h.cfg.Engine.DefaultTotalStep),
		Speed:     float32(req.Float(protocol.FieldSpeed, h.cfg.Engine.DefaultSpeed)),
	}
	result, err := handle.Synthesize(ctx, synthReq)
	if err != nil {
		h.logger.Warn("synthesis failed", slog.String("lang", synthReq.Lang), slog.String("error", err.Error()))
		out.response = protocol.Failure(err.Error())
		return
	}

	out.samples = len(result.Samples)
	out.response = protocol.Success(protocol.StatusSuccess).
		With(protocol.FieldAudio, audio.Encode(result.Samples)).
		With(protocol.FieldSampleRate, result.SampleRate)
	h.logger.Debug("synthesis complete",
		slog.Int("samples", out.samples),
		slog.Int("sample_rate", int(result.SampleRate)))
}

// record journals a handled request. The request text is never stored.
func (h *Host) record(ctx context.Context, requestID string, out outcome, result string, elapsed time.Duration) {
	if h.journal == nil {
		return
	}
	payload, err := protocol.Encode(protocol.Document{
		"outcome":     result,
		"error":       out.response.Err(),
		"duration_ms": elapsed.Milliseconds(),
		"samples":     out.samples,
	})
	if err != nil {
		h.logger.Warn("failed to encode journal event", slog.String("error", err.Error()))
		return
	}
	evt := eventstore.Event{
		SessionID: h.session,
		RequestID: requestID,
		Command:   out.command,
		Outcome:   result,
		Payload:   payload,
	}
	if err := h.journal.AppendEvent(ctx, evt); err != nil {
		h.logger.Warn("failed to journal request", slog.String("error", err.Error()))
	}
}
