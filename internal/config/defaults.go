package config

import (
	"time"
)

func Defaults() *Config {

	return &Config{
		Web: WebConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  5 * time.Second,
			StreamBuffer: 32,
		},

		Relay: RelayConfig{
			SelfTest:    false,
			HistorySize: 256,
		},

		MQTT: MQTTConfig{
			QoS: 1,
		},

		Kafka: KafkaConfig{
			Topic: "scanbridge.debug",
		},

		Hub: HubConfig{
			ClientTTL:      2 * time.Minute,
			ExpiryInterval: 30 * time.Second,
		},

		Log: LogConfig{
			Level: "info",
		},

		MonitorInterval: 30 * time.Second,
	}
}
