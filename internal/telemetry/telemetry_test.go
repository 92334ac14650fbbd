package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DevGitPit/supertonic/internal/config"
	"github.com/DevGitPit/supertonic/internal/logging"
)

func TestSetupServesMetrics(t *testing.T) {
	cfg := config.Default()
	provider, err := Setup(cfg, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	inst := NewInstruments("host", logging.Discard())
	ctx, span := inst.Start(context.Background(), "host.dispatch")
	inst.Record(ctx, "ping", OutcomeOK, 3*time.Millisecond)
	inst.AddSamples(ctx, 10)
	span.End()

	handler := provider.MetricsHandler()
	if handler == nil {
		t.Fatal("expected metrics handler")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "requests") {
		t.Fatalf("request counter missing from scrape:\n%s", rec.Body.String())
	}
}

func TestSetupStdoutTracesGoToWriter(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.TraceStdout = true
	var out bytes.Buffer
	provider, err := Setup(cfg, logging.Discard(), &out)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	inst := NewInstruments("host", logging.Discard())
	_, span := inst.Start(context.Background(), "host.dispatch")
	span.End()
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(out.String(), "host.dispatch") {
		t.Fatalf("span not exported to writer: %q", out.String())
	}
}

func TestNilInstrumentsAreSafe(t *testing.T) {
	var inst *Instruments
	ctx, span := inst.Start(context.Background(), "x")
	span.End()
	inst.Record(ctx, "ping", OutcomeOK, time.Millisecond)
	inst.AddSamples(ctx, 1)
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.MetricsHandler() != nil {
		t.Fatal("nil provider should have no handler")
	}
}
