package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("component", "test"))
	log.Info("hello", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" || m["component"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger IsZero = false")
	}
	l.Error("must not panic")
	if Nop().IsZero() {
		t.Fatalf("Nop().IsZero() = true, want false")
	}
}

type captureForwarder struct {
	mu   sync.Mutex
	recs []Record
}

func (c *captureForwarder) Forward(_ context.Context, rec Record) error {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
	return nil
}

func (c *captureForwarder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func TestForwardRespectsMinLevel(t *testing.T) {
	fwd := &captureForwarder{}
	svc, _ := New(Config{Level: "debug"})
	defer svc.Close()
	svc.SetForwarder(fwd)
	svc.Apply(Config{Level: "debug", Forward: ForwardConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})

	log := svc.Logger()
	log.Info("below threshold")
	log.Warn("forwarded", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for fwd.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := fwd.count(); got != 1 {
		t.Fatalf("forwarded = %d, want 1", got)
	}
	fwd.mu.Lock()
	rec := fwd.recs[0]
	fwd.mu.Unlock()
	if rec.Message != "forwarded" || rec.Fields["k"] != "v" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
