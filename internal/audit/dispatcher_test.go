package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher should report zero counters")
	}
}

func TestDispatcherDeliversBeforeClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "validate_user"})
	}
	d.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
	if d.Delivered() != 50 {
		t.Fatalf("expected delivered counter 50, got %d", d.Delivered())
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event blocks in the sink, one fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a full buffer")
	}

	close(sink.gate)
	d.Close()
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: false}, sink)

	d.Emit(context.Background(), Event{EventType: "held"})
	time.Sleep(10 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "buffered"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Emit(ctx, Event{EventType: "blocked"})
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("expected Emit to block until the context expired")
	}

	close(sink.gate)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{EventType: "create_user", ApplicationName: "shop", Username: "bob", Success: true})
	sink.Emit(context.Background(), Event{EventType: "validate_user", ApplicationName: "shop", Error: "password_mismatch"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got Event
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.EventType != "validate_user" || got.Error != "password_mismatch" || got.ApplicationName != "shop" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "validate_user", Username: "bob", Success: false, Error: "password_mismatch"})

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"username":"bob"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestDispatcherCloseReleasesBlockedEmitter(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{EventType: "held"})
	time.Sleep(10 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "buffered"})

	returned := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "waiting"})
		close(returned)
	}()
	time.Sleep(10 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("blocked Emit was not released by Close")
	}

	close(sink.gate)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the sink drained")
	}
	if got := d.Delivered(); got != 2 {
		t.Fatalf("expected the held and buffered events delivered, got %d", got)
	}
}

func TestSlogSinkGroupsMetadata(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), Event{
		EventType: "reset_password",
		Success:   true,
		SessionID: "abc",
		Metadata:  map[string]string{"reason": "answer_ok"},
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	meta, ok := rec["meta"].(map[string]any)
	if !ok || meta["reason"] != "answer_ok" {
		t.Fatalf("expected grouped metadata, got %v", rec)
	}
	if rec["level"] != "INFO" || rec["session_id"] != "abc" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["username"]; ok {
		t.Fatal("empty username should be omitted")
	}
}

func TestJSONWriterSinkNilWriter(t *testing.T) {
	NewJSONWriterSink(nil).Emit(context.Background(), Event{EventType: "x"})
}
