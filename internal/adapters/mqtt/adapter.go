// Package mqtt subscribes to a broker topic on which reader gateways
// publish scan envelopes.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"scanbridge/internal/adapters"
)

type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

type mqttAdapter struct {
	id     string
	topic  string
	cfg    Config
	sink   adapters.Sink
	status adapters.Status
	log    *slog.Logger
}

// NewFactory binds broker settings; the data source of each configured
// source is its topic filter.
func NewFactory(cfg Config) adapters.Factory {
	return func(id, ds string, sink adapters.Sink, status adapters.Status) (adapters.Adapter, error) {
		if cfg.BrokerURL == "" {
			return nil, errors.New("mqtt: broker url is required")
		}
		if ds == "" {
			return nil, errors.New("mqtt: topic is required")
		}
		if cfg.QoS > 2 {
			cfg.QoS = 2
		}
		return &mqttAdapter{
			id:     id,
			topic:  ds,
			cfg:    cfg,
			sink:   sink,
			status: status,
			log:    slog.Default().With("service", "mqtt", "source", id),
		}, nil
	}
}

func (a *mqttAdapter) handle(_ paho.Client, msg paho.Message) {
	ev, err := adapters.Decode(a.id, msg.Payload())
	if err != nil {
		a.log.Warn("bad message", "topic", msg.Topic(), "error", err, "payload", adapters.Truncate(msg.Payload(), 256))
		return
	}
	a.sink.Deliver(ev)
}

func (a *mqttAdapter) options() *paho.ClientOptions {
	clientID := a.cfg.ClientID
	if clientID == "" {
		clientID = "scanbridge-" + a.id
	}
	opts := paho.NewClientOptions().
		AddBroker(a.cfg.BrokerURL).
		SetClientID(clientID).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(false)
	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
	}
	if a.cfg.Password != "" {
		opts.SetPassword(a.cfg.Password)
	}

	opts.OnConnect = func(c paho.Client) {
		a.log.Info("connected", "broker", a.cfg.BrokerURL)
		if token := c.Subscribe(a.topic, a.cfg.QoS, a.handle); token.Wait() && token.Error() != nil {
			a.log.Error("subscribe failed", "topic", a.topic, "error", token.Error())
			return
		}
		a.status.SetOnline(a.id, true)
		a.log.Info("subscribed", "topic", a.topic, "qos", a.cfg.QoS)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		a.status.SetOnline(a.id, false)
		a.log.Warn("connection lost", "error", err)
	}
	return opts
}

func (a *mqttAdapter) Start(ctx context.Context) error {
	client := paho.NewClient(a.options())
	if err := connectWithBackoff(ctx, client, a.log, 2*time.Second, 30*time.Second); err != nil {
		return err
	}
	<-ctx.Done()
	a.status.SetOnline(a.id, false)
	client.Disconnect(250)
	return ctx.Err()
}

func connectWithBackoff(ctx context.Context, client paho.Client, log *slog.Logger, start, max time.Duration) error {
	backoff := start
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		log.Warn("connect failed", "error", token.Error(), "retry_in", backoff)
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
			}
		case <-ctx.Done():
			return fmt.Errorf("mqtt: connect: %w", ctx.Err())
		}
	}
}
