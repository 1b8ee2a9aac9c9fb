package adapters

import (
	"context"

	"scanbridge/internal/events"
)

// Sink receives every decoded event from a source.
type Sink interface {
	Deliver(ev events.ScanEvent) bool
}

// Status is told when a source gains or loses its upstream.
type Status interface {
	SetOnline(id string, online bool)
}

type Adapter interface {
	Start(ctx context.Context) error
}

// Factory builds the adapter for one configured source. ds is the
// adapter-specific data source string (address, topic, device path).
type Factory func(id, ds string, sink Sink, status Status) (Adapter, error)
