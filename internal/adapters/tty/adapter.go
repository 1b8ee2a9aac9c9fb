// Package tty reads scans from a reader in serial (keyboard wedge) mode:
// one barcode per line. Lines that look like JSON are decoded as envelopes.
package tty

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"scanbridge/internal/adapters"
	"scanbridge/internal/events"
	"scanbridge/internal/resolver"
)

type ttyAdapter struct {
	id     string
	device string
	sink   adapters.Sink
	status adapters.Status
	log    *slog.Logger
}

func New(id, ds string, sink adapters.Sink, status adapters.Status) (adapters.Adapter, error) {
	if ds == "" {
		return nil, errors.New("tty: device path is required")
	}
	return &ttyAdapter{
		id:     id,
		device: ds,
		sink:   sink,
		status: status,
		log:    slog.Default().With("service", "tty", "source", id),
	}, nil
}

// Start blocks reading lines until ctx is done. EOF is not an error: the
// device is polled again after a short pause.
func (a *ttyAdapter) Start(ctx context.Context) error {
	f, err := os.Open(a.device)
	if err != nil {
		return fmt.Errorf("tty: cannot open %s: %w", a.device, err)
	}
	defer f.Close()

	// Closing the file unblocks a pending read.
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	a.status.SetOnline(a.id, true)
	defer a.status.SetOnline(a.id, false)
	a.log.Info("listening", "device", a.device)

	r := bufio.NewReader(f)
	var pending []byte
	for {
		chunk, err := r.ReadBytes('\n')
		pending = append(pending, chunk...)
		if err == nil {
			a.line(pending)
			pending = pending[:0]
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("tty: read error: %w", err)
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *ttyAdapter) line(raw []byte) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return
	}
	if line[0] == '{' {
		ev, err := adapters.Decode(a.id, line)
		if err != nil {
			a.log.Warn("bad envelope", "error", err, "line", adapters.Truncate(line, 256))
			return
		}
		a.sink.Deliver(ev)
		return
	}
	a.sink.Deliver(events.New(a.id, resolver.ActionPassToApp, map[string]*string{
		resolver.KeyReaderData: events.Str(string(line)),
	}))
}
