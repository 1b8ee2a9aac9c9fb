// Package tcp reads newline-delimited scan envelopes from a reader gateway
// that serves them over a plain TCP stream.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"scanbridge/internal/adapters"
)

const maxLine = 64 * 1024

type tcpAdapter struct {
	id     string
	ds     string
	sink   adapters.Sink
	status adapters.Status
	log    *slog.Logger
}

func New(id, ds string, sink adapters.Sink, status adapters.Status) (adapters.Adapter, error) {
	if ds == "" {
		return nil, errors.New("tcp: empty address")
	}
	return &tcpAdapter{
		id:     id,
		ds:     ds,
		sink:   sink,
		status: status,
		log:    slog.Default().With("service", "tcp", "source", id),
	}, nil
}

func (a *tcpAdapter) Start(ctx context.Context) error {
	var d net.Dialer
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := d.DialContext(ctx, "tcp", a.ds)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			a.log.Debug("dial failed", "addr", a.ds, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 10*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		a.status.SetOnline(a.id, true)
		a.log.Info("connected", "addr", a.ds)

		err = a.readLoop(ctx, conn)
		a.status.SetOnline(a.id, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("connection lost", "error", err)
	}
}

func (a *tcpAdapter) readLoop(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := adapters.Decode(a.id, line)
		if err != nil {
			a.log.Warn("bad envelope", "error", err, "payload", adapters.Truncate(line, 256))
			continue
		}
		a.sink.Deliver(ev)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("tcp: connection closed by peer")
}
