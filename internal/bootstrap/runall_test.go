package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"scanbridge/internal/adapters"
	"scanbridge/internal/config"
	"scanbridge/internal/events"
	"scanbridge/internal/registry"
)

type countSink struct{ n atomic.Int32 }

func (c *countSink) Deliver(events.ScanEvent) bool {
	c.n.Add(1)
	return true
}

type fakeAdapter struct {
	id     string
	sink   adapters.Sink
	status adapters.Status
	fail   bool
}

func (a *fakeAdapter) Start(ctx context.Context) error {
	if a.fail {
		return errors.New("boom")
	}
	a.status.SetOnline(a.id, true)
	a.sink.Deliver(events.New(a.id, "barcode.data", nil))
	<-ctx.Done()
	return ctx.Err()
}

func TestRunStartsEnabledSources(t *testing.T) {
	reg := registry.NewStore()
	LoadSources(reg, []registry.Source{
		{ID: "a", Adapter: "fake", Enabled: true},
		{ID: "b", Adapter: "fake", Enabled: false},
		{ID: "c", Adapter: "fake", DataSource: "fail", Enabled: true},
		{ID: "d", Adapter: "nope", Enabled: true},
	})
	factories := map[string]adapters.Factory{
		"fake": func(id, ds string, sink adapters.Sink, status adapters.Status) (adapters.Adapter, error) {
			return &fakeAdapter{id: id, sink: sink, status: status, fail: ds == "fail"}, nil
		},
	}

	sink := &countSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, reg, sink, factories) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if a, _ := reg.Get("a"); a.Online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("source a never came online")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v", err)
	}

	if n := sink.n.Load(); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if a, _ := reg.Get("a"); a.Online {
		t.Fatal("source a still online after stop")
	}
}

func TestFactoriesCoverAdapters(t *testing.T) {
	f := Factories(config.Defaults())
	for _, name := range []string{"tcp", "udp", "tty", "mqtt"} {
		if f[name] == nil {
			t.Errorf("no factory for %q", name)
		}
	}
}
