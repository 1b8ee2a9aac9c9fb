// scan-emulator plays the part of a reader gateway: it publishes scan
// envelopes to a running scanbridge over udp, http or mqtt.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/lmittmann/tint"

	"scanbridge/internal/adapters"
	"scanbridge/internal/adapters/udp"
	"scanbridge/internal/events"
	"scanbridge/internal/resolver"
)

func main() {
	var (
		transport = flag.String("transport", "udp", "udp, http or mqtt")
		target    = flag.String("target", "239.255.42.99:5599", "udp address, http base URL, or mqtt broker URL")
		topic     = flag.String("topic", "scanners/emu/scan", "mqtt topic")
		action    = flag.String("action", resolver.ActionPassToApp, "action tag of each scan")
		key       = flag.String("key", resolver.KeyReaderData, "extra that carries the barcode")
		every     = flag.Duration("every", 2*time.Second, "interval between scans")
		jitterPct = flag.Float64("jitter", 0.2, "jitter percent for the interval (0..1)")
		count     = flag.Int("n", 0, "number of scans to send (0 = until interrupted)")
		connect   = flag.Bool("service-connected", true, "send a SERVICE_CONNECTED event first")
	)
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.TimeOnly})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	send, closeFn, err := sender(*transport, *target, *topic)
	if err != nil {
		slog.Error("emulator", "error", err)
		os.Exit(1)
	}
	defer closeFn()

	slog.Info("scan-emulator started", "transport", *transport, "target", *target)

	if *connect {
		if err := publish(ctx, send, resolver.ActionServiceConnected, nil); err != nil {
			slog.Warn("service connected", "error", err)
		}
	}

	for i := 0; *count == 0 || i < *count; i++ {
		code := randomEAN13()
		err := publish(ctx, send, *action, map[string]*string{*key: events.Str(code)})
		if err != nil {
			slog.Warn("send failed", "error", err)
		} else {
			slog.Info("scan sent", "data", code)
		}
		select {
		case <-ctx.Done():
			slog.Info("scan-emulator stopped")
			return
		case <-time.After(withJitter(*every, *jitterPct)):
		}
	}
}

type sendFunc func(ctx context.Context, payload []byte) error

func publish(ctx context.Context, send sendFunc, action string, extras map[string]*string) error {
	b, err := adapters.Encode(action, extras)
	if err != nil {
		return err
	}
	return send(ctx, b)
}

func sender(transport, target, topic string) (sendFunc, func(), error) {
	switch strings.ToLower(transport) {
	case "udp":
		return func(ctx context.Context, b []byte) error {
			return udp.Send(ctx, target, b)
		}, func() {}, nil

	case "http":
		cl := &http.Client{Timeout: 5 * time.Second}
		url := strings.TrimRight(target, "/") + "/api/v1/events"
		return func(ctx context.Context, b []byte) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			res, err := cl.Do(req)
			if err != nil {
				return err
			}
			defer res.Body.Close()
			body, _ := io.ReadAll(res.Body)
			if res.StatusCode/100 != 2 {
				return fmt.Errorf("http %d: %s", res.StatusCode, body)
			}
			return nil
		}, func() {}, nil

	case "mqtt":
		opts := paho.NewClientOptions().
			AddBroker(target).
			SetClientID(fmt.Sprintf("scan-emulator-%d", rand.IntN(1_000_000))).
			SetConnectTimeout(5 * time.Second)
		client := paho.NewClient(opts)
		tok := client.Connect()
		if !tok.WaitTimeout(5 * time.Second) {
			return nil, nil, fmt.Errorf("mqtt connect: timeout")
		}
		if err := tok.Error(); err != nil {
			return nil, nil, fmt.Errorf("mqtt connect: %w", err)
		}
		pub := func(ctx context.Context, b []byte) error {
			tok := client.Publish(topic, 1, false, b)
			select {
			case <-tok.Done():
				return tok.Error()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return pub, func() { client.Disconnect(250) }, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", transport)
}

// randomEAN13 returns a 13-digit code with a valid check digit.
func randomEAN13() string {
	digits := make([]int, 12)
	sum := 0
	for i := range digits {
		digits[i] = rand.IntN(10)
		w := 1
		if i%2 == 1 {
			w = 3
		}
		sum += digits[i] * w
	}
	var sb strings.Builder
	for _, d := range digits {
		sb.WriteByte(byte('0' + d))
	}
	sb.WriteByte(byte('0' + (10-sum%10)%10))
	return sb.String()
}

func withJitter(base time.Duration, pct float64) time.Duration {
	if pct <= 0 {
		return base
	}
	delta := base.Seconds() * pct
	j := (rand.Float64()*2 - 1) * delta
	return time.Duration((base.Seconds() + j) * float64(time.Second))
}
