package main

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BrokerURL string `envconfig:"MQTT_URL" default:"tcp://127.0.0.1:1883"`
	// DEV_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"DEV_COLOURS" default:"true"`
	// DEV_HEARTBEAT_INTERVAL in seconds
	HeartbeatSeconds int `envconfig:"DEV_HEARTBEAT_INTERVAL" default:"5"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
