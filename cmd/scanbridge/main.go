package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"scanbridge/internal/bootstrap"
	"scanbridge/internal/broadcast"
	"scanbridge/internal/config"
	"scanbridge/internal/events"
	"scanbridge/internal/hub"
	"scanbridge/internal/notify"
	"scanbridge/internal/reader"
	"scanbridge/internal/registry"
	"scanbridge/internal/relay"
	"scanbridge/internal/resolver"
	"scanbridge/internal/state"
	"scanbridge/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default $"+config.EnvPath+" or ./configs/scanbridge.yml)")
	flag.Parse()

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.SlogLevel())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	disp := broadcast.NewDispatcher()
	defer disp.Close()

	hb := hub.New()
	notifiers := notify.Multi{hb}
	if cfg.Kafka.Enabled {
		k, err := notify.NewKafka(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return err
		}
		defer closeLogged("kafka writer", k)
		notifiers = append(notifiers, k)
		slog.Info("kafka mirror enabled", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	filter := resolver.NewFilter(cfg.Resolver.Actions)
	if cfg.Resolver.AcceptAny {
		filter.AcceptAny = true
	}

	rl := relay.New(relay.Options{
		Source:   disp,
		Keys:     resolver.NewKeySet(cfg.Resolver.DataKeys),
		Filter:   filter,
		State:    state.NewStore(),
		Notifier: notifiers,
		Reader:   reader.NewLocal(),
		History:  events.NewRing(cfg.Relay.HistorySize),
		SelfTest: cfg.Relay.SelfTest,
	})
	defer rl.Stop()

	reg := registry.NewStore()
	bootstrap.LoadSources(reg, cfg.Sources)

	srv := web.New(cfg.Web, web.Deps{
		Relay:  rl,
		Reg:    reg,
		Hub:    hb,
		Ingest: disp,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		hb.RunExpiry(gctx, cfg.Hub.ExpiryInterval, cfg.Hub.ClientTTL)
		return nil
	})
	g.Go(func() error {
		if err := bootstrap.RunAll(gctx, cfg, reg, disp); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	err := g.Wait()
	slog.Info("scanbridge stopped")
	return err
}

// closeLogged closes c and logs the error, if any.
func closeLogged(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("close failed", "component", name, "error", err)
	}
}
