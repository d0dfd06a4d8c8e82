package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterPathResolution(t *testing.T) {
	dir := t.TempDir()

	c := Config{Dir: dir}
	w := c.Writer("run")
	if w == nil {
		t.Fatalf("expected writer when dir is set")
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(filepath.Join(dir, "run.log")); err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	explicit := filepath.Join(dir, "explicit.log")
	c = Config{Dir: dir, Path: explicit}
	w = c.Writer("run")
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(explicit); err != nil {
		t.Fatalf("explicit path ignored: %v", err)
	}

	if w := (Config{}).Writer("run"); w != nil {
		t.Fatalf("expected nil writer without dir or path")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (Config{Level: in}).SlogLevel(); got != want {
			t.Fatalf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFanoutHandlerDuplicates(t *testing.T) {
	var a, b bytes.Buffer
	h := NewFanoutHandler(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	)
	log := slog.New(h)
	log.Info("observed", "record", "userA", "active", true)

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !strings.Contains(buf.String(), "record=userA") {
			t.Fatalf("handler %s missed the record attr: %q", name, buf.String())
		}
	}
}

func TestColorTextHandlerAddsLevelColor(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, true)
	if err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(buf.String(), "\033[31m") {
		t.Fatalf("expected red escape for error level: %q", buf.String())
	}
}
