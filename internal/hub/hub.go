package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"scanbridge/internal/notify"
)

const queueSize = 64

type clientState struct {
	q    chan notify.Notification
	last time.Time
	// streaming clients hold their queue open and are never expired
	streaming bool
}

// Hub keeps one bounded queue per diagnostics client and copies every
// notification into each of them. A full queue drops the notification for
// that client only.
type Hub struct {
	mu  sync.RWMutex
	cli map[string]*clientState
}

func New() *Hub { return &Hub{cli: map[string]*clientState{}} }

// NewClientID returns a fresh identifier for a long-poll client.
func NewClientID() string { return uuid.NewString() }

func (h *Hub) get(id string) *clientState {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.cli[id]
	if !ok {
		s = &clientState{q: make(chan notify.Notification, queueSize)}
		h.cli[id] = s
	}
	s.last = time.Now()
	return s
}

// Register creates or refreshes the long-poll client id.
func (h *Hub) Register(id string) {
	h.get(id)
}

// Subscribe attaches a streaming client and returns its queue. The client
// stays until Unsubscribe.
func (h *Hub) Subscribe(id string) <-chan notify.Notification {
	s := h.get(id)
	h.mu.Lock()
	s.streaming = true
	h.mu.Unlock()
	return s.q
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cli, id)
}

func (h *Hub) Notify(n notify.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.cli {
		select {
		case s.q <- n:
		default:
		}
	}
	return nil
}

// LongPoll waits for at least one notification for id and returns up to 32.
func (h *Hub) LongPoll(ctx context.Context, id string) []notify.Notification {
	s := h.get(id)
	select {
	case n := <-s.q:
		out := []notify.Notification{n}
		for i := 0; i < 31; i++ {
			select {
			case n2 := <-s.q:
				out = append(out, n2)
			default:
				return out
			}
		}
		return out
	case <-ctx.Done():
		return nil
	}
}

// Clients reports how many clients are attached.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cli)
}

// Expire drops polling clients that have not polled within ttl.
func (h *Hub) Expire(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, s := range h.cli {
		if !s.streaming && s.last.Before(cutoff) {
			delete(h.cli, id)
			n++
		}
	}
	return n
}

// RunExpiry calls Expire every interval until ctx is done.
func (h *Hub) RunExpiry(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Expire(ttl)
		}
	}
}
