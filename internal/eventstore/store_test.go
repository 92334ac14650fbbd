package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DevGitPit/supertonic/internal/config"
	"github.com/DevGitPit/supertonic/internal/logging"
)

func TestOpenEphemeralIsNoop(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.AppendSession(ctx, "s", "chrome-extension://abc/", "mock"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "s", Command: "ping"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v (%v)", events, err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var es *Store
	if err := es.AppendEvent(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
	if err := es.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAppendAndListRequests(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal", "requests.db"), RetentionMode: "session"}
	es, err := Open(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.AppendSession(ctx, sessionID, "chrome-extension://abc/", "exec"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	for _, cmd := range []string{"initialize", "synthesize", "ping"} {
		evt := Event{SessionID: sessionID, RequestID: cmd + "-id", Command: cmd, Outcome: "ok", Payload: []byte(`{"n":1}`)}
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Command != "initialize" || events[2].Command != "ping" {
		t.Fatalf("unexpected order: %+v", events)
	}
	if events[1].RequestID != "synthesize-id" || string(events[1].Payload) != `{"n":1}` {
		t.Fatalf("unexpected event: %+v", events[1])
	}
}

func TestSessionModeKeepsOnlyCurrentSession(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "requests.db"), RetentionMode: "session"}

	previous, err := Open(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	previous.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := previous.AppendSession(ctx, "previous-session", "", "mock"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := previous.AppendEvent(ctx, Event{SessionID: "previous-session", Command: "ping", Outcome: "ok"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := previous.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	es, err := Open(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("reopen event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	es.clock = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "current-session", "", "mock"); err != nil {
		t.Fatalf("append session: %v", err)
	}

	old, err := es.ListSessionEvents(ctx, "previous-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected previous session dropped once a new one starts, got %d events", len(old))
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "current-session", Command: "ping", Outcome: "ok"}); err != nil {
		t.Fatalf("append event to current session: %v", err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "requests.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "old-session", "", "mock"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Command: "ping", Outcome: "ok"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-session", "", "mock"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "new-session", Command: "ping", Outcome: "ok"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected old session pruned, got %d events", len(old))
	}
	current, err := es.ListSessionEvents(ctx, "new-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("expected new session kept, got %d events", len(current))
	}
}
