// Package udp receives scan envelopes as broadcast or multicast datagrams,
// one envelope per datagram.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/net/ipv4"

	"scanbridge/internal/adapters"
)

const maxDatagram = 8192

type udpAdapter struct {
	id     string
	listen *net.UDPAddr
	group  net.IP
	ifName string
	ifi    *net.Interface
	sink   adapters.Sink
	status adapters.Status
	log    *slog.Logger
}

// New parses ds as "host:port[@iface]". A multicast host is joined on
// iface (or the system default interface when none is given); any other
// host is bound directly.
func New(id, ds string, sink adapters.Sink, status adapters.Status) (adapters.Adapter, error) {
	addr, ifName, _ := strings.Cut(ds, "@")
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", addr, err)
	}
	a := &udpAdapter{
		id:     id,
		listen: ua,
		ifName: ifName,
		sink:   sink,
		status: status,
		log:    slog.Default().With("service", "udp", "source", id),
	}
	if ua.IP != nil && ua.IP.IsMulticast() {
		a.group = ua.IP
		a.listen = &net.UDPAddr{IP: net.IPv4zero, Port: ua.Port}
	}
	return a, nil
}

func (a *udpAdapter) Start(ctx context.Context) error {
	pc, err := net.ListenPacket("udp4", a.listen.String())
	if err != nil {
		return fmt.Errorf("udp: listen %s: %w", a.listen, err)
	}
	defer pc.Close()

	p := ipv4.NewPacketConn(pc)
	if a.group != nil {
		if err := a.join(p); err != nil {
			return err
		}
		defer func() { _ = p.LeaveGroup(a.ifi, &net.UDPAddr{IP: a.group}) }()
	}

	a.status.SetOnline(a.id, true)
	defer a.status.SetOnline(a.id, false)
	a.log.Info("listening", "addr", pc.LocalAddr().String(), "group", a.group)

	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = pc.SetReadDeadline(time.Now().Add(time.Second))
		n, _, src, err := p.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("udp: read: %w", err)
		}

		ev, err := adapters.Decode(a.id, buf[:n])
		if err != nil {
			a.log.Warn("bad datagram", "from", src, "error", err, "payload", adapters.Truncate(buf[:n], 256))
			continue
		}
		a.sink.Deliver(ev)
	}
}

func (a *udpAdapter) join(p *ipv4.PacketConn) error {
	if a.ifName != "" {
		ifi, err := net.InterfaceByName(a.ifName)
		if err != nil {
			return fmt.Errorf("udp: interface %s: %w", a.ifName, err)
		}
		a.ifi = ifi
	}
	if err := p.JoinGroup(a.ifi, &net.UDPAddr{IP: a.group}); err != nil {
		return fmt.Errorf("udp: join %s: %w", a.group, err)
	}
	_ = p.SetMulticastLoopback(true)
	a.log.Debug("joined multicast group", "group", a.group, "iface", a.ifName)
	return nil
}

// Send writes one envelope to addr; the emulator and tests use it.
func Send(ctx context.Context, addr string, payload []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("udp: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if uc, ok := conn.(*net.UDPConn); ok {
		_ = ipv4.NewConn(uc).SetTTL(1)
	}
	_, err = conn.Write(payload)
	return err
}
