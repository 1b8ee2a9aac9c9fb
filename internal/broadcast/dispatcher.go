// Package broadcast routes decoded scan notifications from every event
// source to the one registered receiver.
package broadcast

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"scanbridge/internal/events"
	"scanbridge/internal/resolver"
)

var (
	ErrUnavailable       = errors.New("broadcast: dispatcher closed")
	ErrAlreadyRegistered = errors.New("broadcast: receiver already registered")
	ErrNotRegistered     = errors.New("broadcast: receiver not registered")
)

// Receiver is called on the source's goroutine for every accepted event.
type Receiver interface {
	OnBroadcast(ev events.ScanEvent)
}

type Dispatcher struct {
	mu     sync.RWMutex
	recv   Receiver
	filter resolver.Filter
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	log       *slog.Logger
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{log: slog.Default().With("service", "broadcast")}
}

// Register installs r with filter f. Only one receiver may be registered;
// registering the same receiver twice reports ErrAlreadyRegistered.
func (d *Dispatcher) Register(r Receiver, f resolver.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrUnavailable
	}
	if d.recv != nil {
		if d.recv == r {
			return ErrAlreadyRegistered
		}
		return errors.New("broadcast: another receiver is registered")
	}
	d.recv = r
	d.filter = f
	d.log.Debug("receiver registered", "actions", len(f.Actions), "accept_any", f.AcceptAny)
	return nil
}

func (d *Dispatcher) Unregister(r Receiver) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recv == nil || d.recv != r {
		return ErrNotRegistered
	}
	d.recv = nil
	d.filter = resolver.Filter{}
	d.log.Debug("receiver unregistered")
	return nil
}

// Deliver hands ev to the registered receiver if its filter accepts the
// tag. It reports whether the event was delivered.
func (d *Dispatcher) Deliver(ev events.ScanEvent) bool {
	d.mu.RLock()
	r, f, closed := d.recv, d.filter, d.closed
	d.mu.RUnlock()

	if closed || r == nil || !f.Accepts(ev.Tag) {
		d.dropped.Add(1)
		return false
	}
	d.delivered.Add(1)
	r.OnBroadcast(ev)
	return true
}

// Close unregisters any receiver; later registrations fail with ErrUnavailable.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.recv = nil
}

func (d *Dispatcher) Stats() (delivered, dropped uint64) {
	return d.delivered.Load(), d.dropped.Load()
}
