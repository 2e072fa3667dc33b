package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/coredrift/substrate/internal/bridge"
	"github.com/coredrift/substrate/internal/corelog"
	"github.com/coredrift/substrate/internal/inspection"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/server"
)

func runServer(ctx context.Context, flags *serverFlags) error {
	store, err := sqlite.New(flags.mailstoreDB)
	if err != nil {
		return fmt.Errorf("open mailstore: %w", err)
	}
	defer store.Close()

	keyring, err := loadKeyring(flags.keysPath)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	hub := bridge.NewHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", serveJSONFile(flags.viewPath))
	mux.HandleFunc("/api/inspection", serveJSONFile(flags.inspectionPath))
	mux.HandleFunc("/api/inspection/timeline", serveTimelinePage(flags.inspectionPath))
	mux.Handle("/ws", hub.Handler())

	handler := bridge.Middleware(keyring)(mux)

	srv, err := server.New(server.Config{
		Addr:       fmt.Sprintf("%s:%d", flags.host, flags.port),
		SocketPath: flags.socketPath,
		Handler:    handler,
		Logger:     corelog.New(os.Stderr),
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	pollInterval := time.Duration(flags.pollIntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	go broadcastViewChanges(ctx, hub, flags.viewPath, pollInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func serveJSONFile(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := os.ReadFile(path)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not generated yet"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

func serveTimelinePage(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idxStore := inspection.NewStore(path)
		idx, err := idxStore.Load()
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not generated yet"})
			return
		}
		limit := inspection.DefaultOfficeTimelineLimit()
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		page := inspection.Paginate(idx.OfficeTimeline, limit, r.URL.Query().Get("cursor"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}
}

// broadcastViewChanges polls the view file's modification time and pushes a
// view_update envelope to every connected observer whenever it advances,
// since the server itself never writes the file and has no other signal
// that the projector has ticked.
func broadcastViewChanges(ctx context.Context, hub *bridge.Hub, viewPath string, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastModTime time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(viewPath)
			if err != nil {
				continue
			}
			if !info.ModTime().After(lastModTime) {
				continue
			}
			lastModTime = info.ModTime()

			data, err := os.ReadFile(viewPath)
			if err != nil {
				continue
			}
			var payload json.RawMessage = data
			hub.Broadcast(bridge.Envelope{Type: "view_update", Data: payload})
		}
	}
}
