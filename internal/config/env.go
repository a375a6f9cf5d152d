package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Overrides are read from the environment after the file is decoded.
// Empty values leave the file value untouched.
type Overrides struct {
	InstanceID     string `env:"BOTLAB_INSTANCE_ID"`
	LogLevel       string `env:"BOTLAB_LOG_LEVEL"`
	StorageDriver  string `env:"BOTLAB_STORAGE_DRIVER"`
	StoragePath    string `env:"BOTLAB_STORAGE_PATH"`
	BusBroker      string `env:"BOTLAB_BUS_BROKER"`
	BusUsername    string `env:"BOTLAB_BUS_USERNAME"`
	BusPassword    string `env:"BOTLAB_BUS_PASSWORD"`
	InfluxToken    string `env:"BOTLAB_INFLUX_TOKEN"`
	OrganizationID int64  `env:"BOTLAB_ORGANIZATION_ID"`
}

// ParseEnv loads overrides from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnv overlays BOTLAB_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var o Overrides
	if err := ParseEnv(&o); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&cfg.InstanceID, o.InstanceID)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Storage.Driver, o.StorageDriver)
	set(&cfg.Storage.Path, o.StoragePath)
	set(&cfg.Bus.Broker, o.BusBroker)
	set(&cfg.Bus.Username, o.BusUsername)
	set(&cfg.Bus.Password, o.BusPassword)
	set(&cfg.Analytics.Influx.Token, o.InfluxToken)
	if o.OrganizationID != 0 {
		cfg.Organization.ID = o.OrganizationID
	}
	return nil
}
