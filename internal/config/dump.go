package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Dump renders the effective configuration as YAML with secrets masked.
func Dump(c *Config) ([]byte, error) {
	masked := *c
	masked.Sources = append([]SourceConfig(nil), c.Sources...)
	if masked.Password != "" {
		masked.Password = redacted
	}
	if masked.Remote.MQTT.Password != "" {
		masked.Remote.MQTT.Password = redacted
	}
	if masked.Remote.Postgres.DSN != "" {
		masked.Remote.Postgres.DSN = redacted
	}

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
