package log

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

func capturePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session.lglog")
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	dec := NewDecoder(bytes.NewReader(data))
	var events []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err == io.EOF {
			return events
		} else if err != nil {
			t.Fatalf("decode event %d: %v", len(events), err)
		}
		events = append(events, ev)
	}
}

func TestFileLoggerRecordsResponse(t *testing.T) {
	path := capturePath(t)
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	method := wire.MethodReleasePlace
	status := wire.StatusFailedPrecondition
	rtt := 3 * time.Millisecond
	ts := time.Date(2026, 3, 2, 9, 30, 0, 250, time.UTC)
	logger.Log(Event{
		Timestamp:    ts,
		ConnectionID: "6f1c2e4a",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		RemoteAddr:   "coordinator:20408",
		Place:        "rpi-4",
		Message: &MessageEvent{
			Type:      MessageTypeResponse,
			MessageID: 12,
			Method:    &method,
			Status:    &status,
			RoundTrip: &rtt,
		},
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.Place != "rpi-4" || got.RemoteAddr != "coordinator:20408" {
		t.Errorf("Place/RemoteAddr = %q/%q", got.Place, got.RemoteAddr)
	}
	if got.Message == nil || got.Message.MessageID != 12 {
		t.Fatalf("Message = %+v", got.Message)
	}
	if got.Message.Method == nil || *got.Message.Method != wire.MethodReleasePlace {
		t.Errorf("Method = %v", got.Message.Method)
	}
	if got.Message.Status == nil || *got.Message.Status != wire.StatusFailedPrecondition {
		t.Errorf("Status = %v", got.Message.Status)
	}
	if got.Message.RoundTrip == nil || *got.Message.RoundTrip != rtt {
		t.Errorf("RoundTrip = %v", got.Message.RoundTrip)
	}
}

func TestFileLoggerAppendsAcrossSessions(t *testing.T) {
	path := capturePath(t)

	for i, conn := range []string{"first", "second"} {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("session %d: NewFileLogger: %v", i, err)
		}
		logger.Log(Event{
			Timestamp:    time.Now(),
			ConnectionID: conn,
			Layer:        LayerSession,
			Category:     CategoryState,
			StateChange:  &StateChangeEvent{Entity: StateEntityConnection, NewState: "connected"},
		})
		if err := logger.Close(); err != nil {
			t.Fatalf("session %d: Close: %v", i, err)
		}
	}

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ConnectionID != "first" || events[1].ConnectionID != "second" {
		t.Errorf("order = %q, %q", events[0].ConnectionID, events[1].ConnectionID)
	}
}

func TestFileLoggerConcurrentWriters(t *testing.T) {
	path := capturePath(t)
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	const goroutines, perGoroutine = 10, 40
	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perGoroutine {
				logger.Log(Event{
					Timestamp:    time.Now(),
					ConnectionID: "conn",
					Layer:        LayerTransport,
					Frame:        &FrameEvent{Size: g*1000 + i, Data: bytes.Repeat([]byte{byte(g)}, 64)},
				})
			}
		}()
	}
	wg.Wait()
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != goroutines*perGoroutine {
		t.Fatalf("got %d events, want %d", len(events), goroutines*perGoroutine)
	}
	seen := make(map[int]bool, len(events))
	for _, ev := range events {
		if ev.Frame == nil {
			t.Fatal("event without frame")
		}
		seen[ev.Frame.Size] = true
	}
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("got %d distinct events, want %d", len(seen), goroutines*perGoroutine)
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := capturePath(t)
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "before"})

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "after"})

	events := readEvents(t, path)
	if len(events) != 1 || events[0].ConnectionID != "before" {
		t.Errorf("events = %+v", events)
	}
}

func TestFileLoggerRequiresCaptureExt(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"session.log", "session", "session.lglog.bak"} {
		_, err := NewFileLogger(filepath.Join(dir, name))
		if !errors.Is(err, ErrCaptureExt) {
			t.Errorf("%s: err = %v, want ErrCaptureExt", name, err)
		}
		if _, statErr := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(statErr) {
			t.Errorf("%s: file created for rejected path", name)
		}
	}

	logger, err := NewFileLogger(filepath.Join(dir, "UPPER.LGLOG"))
	if err != nil {
		t.Fatalf("upper case extension: %v", err)
	}
	defer logger.Close()
	if got := logger.Path(); filepath.Base(got) != "UPPER.LGLOG" {
		t.Errorf("Path() = %q", got)
	}
}

func TestFileLoggerStats(t *testing.T) {
	logger, err := NewFileLogger(capturePath(t))
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "a"})
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "b"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "late"})

	written, dropped := logger.Stats()
	if written != 2 || dropped != 0 {
		t.Errorf("Stats() = %d, %d; want 2, 0", written, dropped)
	}
}

func TestFileLoggerBadPath(t *testing.T) {
	_, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "x.lglog"))
	if err == nil {
		t.Error("expected error for a missing directory")
	}
}

var _ Logger = (*FileLogger)(nil)
