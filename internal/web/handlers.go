package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"scanbridge/internal/adapters"
	"scanbridge/internal/hub"
	"scanbridge/internal/notify"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	delivered, dropped := s.ingest.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"listening":     s.relay.Listening(),
		"delivered":     delivered,
		"dropped":       dropped,
		"debug_clients": s.hub.Clients(),
		"time":          time.Now().UTC(),
	})
}

func (s *Server) handleDebugInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.DebugInfo())
}

func (s *Server) handleKnownTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.KnownTags())
}

type simulateRequest struct {
	Data string `json:"data"`
}

// handleSimulate accepts an optional {"data": "..."} body; without one a
// placeholder payload is generated.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.relay.Simulate(req.Data))
}

// handleHistory serves the recent events. With ?after=<RFC 3339 time> only
// events later than that are returned.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	if v := q.Get("after"); v != "" {
		after, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be an RFC 3339 time")
			return
		}
		writeJSON(w, http.StatusOK, s.relay.HistorySince(after, limit))
		return
	}
	writeJSON(w, http.StatusOK, s.relay.History(limit))
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

// handleIngest is the HTTP event source: the body is one envelope.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	ev, err := adapters.Decode("http", body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	delivered := s.ingest.Deliver(ev)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        ev.ID,
		"delivered": delivered,
	})
}

// handleDebugStream pushes every diagnostics notification as a server-sent
// event named after its method.
func (s *Server) handleDebugStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()

	id := hub.NewClientID()
	q := s.hub.Subscribe(id)
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprint(w, ": welcome\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("sse: client disconnected", "client", id)
			return

		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case n := <-q:
			if err := writeSSE(w, n); err != nil {
				s.log.Warn("sse: write error", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, n notify.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, n.Method, data)
	return err
}

type pollResponse struct {
	Client        string                `json:"client"`
	Notifications []notify.Notification `json:"notifications"`
}

// handleDebugPoll waits for notifications queued for ?client=<id>. A request
// without a client id is assigned one and returns immediately so the caller
// can start polling with it.
func (s *Server) handleDebugPoll(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("client")
	if id == "" {
		id = hub.NewClientID()
		s.hub.Register(id)
		writeJSON(w, http.StatusOK, pollResponse{Client: id, Notifications: []notify.Notification{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.pollTimeout)
	defer cancel()
	out := s.hub.LongPoll(ctx, id)
	if out == nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			return
		}
		out = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, pollResponse{Client: id, Notifications: out})
}
