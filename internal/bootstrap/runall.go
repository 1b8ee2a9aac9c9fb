package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"scanbridge/internal/adapters"
	"scanbridge/internal/adapters/mqtt"
	"scanbridge/internal/adapters/tcp"
	"scanbridge/internal/adapters/tty"
	"scanbridge/internal/adapters/udp"
	"scanbridge/internal/config"
	"scanbridge/internal/registry"
)

// Factories maps the adapter name of a configured source to its
// constructor.
func Factories(cfg *config.Config) map[string]adapters.Factory {
	broker := mqtt.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		QoS:       cfg.MQTT.QoS,
	}
	return map[string]adapters.Factory{
		"tcp":  tcp.New,
		"udp":  udp.New,
		"tty":  tty.New,
		"mqtt": mqtt.NewFactory(broker),
	}
}

// LoadSources copies the configured sources into reg.
func LoadSources(reg *registry.Store, sources []registry.Source) {
	for _, s := range sources {
		reg.Upsert(s)
	}
}

// RunAll starts every enabled source in reg and the source monitor, and
// blocks until ctx is done. A source that fails is logged and left offline;
// it does not stop the others.
func RunAll(ctx context.Context, cfg *config.Config, reg *registry.Store, sink adapters.Sink) error {
	go reg.StartMonitoring(ctx, cfg.MonitorInterval, nil)
	slog.Info("source monitoring started", "interval", cfg.MonitorInterval)

	return run(ctx, reg, sink, Factories(cfg))
}

func run(ctx context.Context, reg *registry.Store, sink adapters.Sink, factories map[string]adapters.Factory) error {
	log := slog.Default().With("service", "bootstrap")
	g, gctx := errgroup.WithContext(ctx)

	started := 0
	for _, src := range reg.ListEnabled() {
		f, ok := factories[src.Adapter]
		if !ok {
			log.Warn("unknown adapter", "source", src.ID, "adapter", src.Adapter)
			continue
		}
		ad, err := f(src.ID, src.DataSource, sink, reg)
		if err != nil {
			log.Error("adapter init failed", "source", src.ID, "error", err)
			continue
		}
		started++
		id := src.ID
		g.Go(func() error {
			err := ad.Start(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("adapter stopped", "source", id, "error", err)
			}
			reg.SetOnline(id, false)
			return nil
		})
	}
	log.Info("sources started", "count", started)

	<-ctx.Done()
	_ = g.Wait()
	return ctx.Err()
}
