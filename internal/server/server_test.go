package server

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coredrift/substrate/internal/corelog"
)

func TestServerStarts(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestServerLogsStartAndShutdown(t *testing.T) {
	var buf bytes.Buffer
	srv, err := New(Config{Addr: "127.0.0.1:0", Logger: corelog.New(&buf)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	// The server logs "server_start" synchronously before ListenAndServe
	// blocks, so a short settle is only needed for ListenAndServe itself
	// to bind before Shutdown races it.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	<-errCh

	out := buf.String()
	if !strings.Contains(out, `"event":"server_start"`) {
		t.Fatalf("expected server_start event, got %q", out)
	}
	if !strings.Contains(out, `"event":"server_shutdown"`) {
		t.Fatalf("expected server_shutdown event, got %q", out)
	}
}

func TestServerNoLoggerIsSilent(t *testing.T) {
	srv, err := New(Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Must not panic with a nil Logger.
	srv.logEvent("server_start", nil)
}
