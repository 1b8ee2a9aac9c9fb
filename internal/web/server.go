package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"scanbridge/internal/adapters"
	"scanbridge/internal/config"
	"scanbridge/internal/hub"
	"scanbridge/internal/registry"
	"scanbridge/internal/relay"
)

const (
	maxBodySize = 64 << 10
	pollTimeout = 25 * time.Second
)

// Ingest receives events posted to /api/v1/events and reports delivery
// counters for the health endpoint.
type Ingest interface {
	adapters.Sink
	Stats() (delivered, dropped uint64)
}

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Relay  *relay.Relay
	Reg    *registry.Store
	Hub    *hub.Hub
	Ingest Ingest
}

type Server struct {
	http        *http.Server
	cfg         config.WebConfig
	relay       *relay.Relay
	reg         *registry.Store
	hub         *hub.Hub
	ingest      Ingest
	upgrader    websocket.Upgrader
	pollTimeout time.Duration
	log         *slog.Logger
}

func New(cfg config.WebConfig, d Deps) *Server {
	s := &Server{
		cfg:    cfg,
		relay:  d.Relay,
		reg:    d.Reg,
		hub:    d.Hub,
		ingest: d.Ingest,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pollTimeout: pollTimeout,
		log:         slog.Default().With("service", "web"),
	}
	if s.cfg.StreamBuffer <= 0 {
		s.cfg.StreamBuffer = 32
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           withCommonHeaders(s.Router()),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		// no WriteTimeout: the scan and debug streams are long-lived
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/scan/stream", s.handleScanStream).Methods(http.MethodGet)

	api.HandleFunc("/debug/info", s.handleDebugInfo).Methods(http.MethodGet)
	api.HandleFunc("/debug/tags", s.handleKnownTags).Methods(http.MethodGet)
	api.HandleFunc("/debug/simulate", s.handleSimulate).Methods(http.MethodPost)
	api.HandleFunc("/debug/events", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/debug/stream", s.handleDebugStream).Methods(http.MethodGet)
	api.HandleFunc("/debug/poll", s.handleDebugPoll).Methods(http.MethodGet)

	api.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleIngest).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("listening", "addr", "http://"+s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shCtx); err != nil {
		s.log.Warn("shutdown error", "error", err)
	} else {
		s.log.Info("stopped")
	}
	return nil
}

func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
