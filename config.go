package main

import (
	"os"

	"gopkg.in/yaml.v2"
)

// MQTTConfig configures the optional broker ingest. An empty broker URL
// disables MQTT entirely.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topic is a wildcard subscription whose second segment is the vehicle
	// id, e.g. fleet/+/location.
	Topic string `yaml:"topic"`
}

// Config is the process configuration, loadable from YAML.
type Config struct {
	Listen           string     `yaml:"listen"`
	DefaultRangeM    float64    `yaml:"default_range_m"`
	HysteresisM      float64    `yaml:"hysteresis_m"`
	PreemptMargin    int        `yaml:"preempt_margin"`
	StaleAfterS      float64    `yaml:"stale_after_s"`
	SweepIntervalS   float64    `yaml:"sweep_interval_s"`
	MaxIntersections int        `yaml:"max_intersections"`
	MQTT             MQTTConfig `yaml:"mqtt"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:           ":8080",
		DefaultRangeM:    300,
		HysteresisM:      5,
		PreemptMargin:    0,
		StaleAfterS:      60,
		SweepIntervalS:   5,
		MaxIntersections: 100,
		MQTT: MQTTConfig{
			ClientID: "preempt_backend",
			Topic:    "fleet/+/location",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. Unknown keys are
// rejected so typos in deployment configs fail loudly.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
