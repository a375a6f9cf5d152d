package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

const (
	DefaultPollInterval       = time.Second
	DefaultBusyTimeout        = 5 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultDataRequestTimeout = 60 * time.Second
	DefaultDataRequestRetries = 3
	DefaultTopicPrefix        = "botlab"
)

// Validate checks structural invariants. Semantic checks that need other
// packages (factory types, schedule specs) are installed by the host via
// ConfigManager.SetValidator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error

	seen := map[string]bool{}
	for i, e := range cfg.Microservices {
		mod := strings.TrimSpace(e.Module)
		if mod == "" {
			errs = append(errs, fmt.Errorf("microservices[%d].module is required", i))
			continue
		}
		if strings.TrimSpace(e.Type) == "" {
			errs = append(errs, fmt.Errorf("microservices[%d].type is required", i))
		}
		if seen[mod] {
			errs = append(errs, fmt.Errorf("microservices[%d]: duplicate module %q", i, mod))
		}
		seen[mod] = true
	}

	ids := map[string]bool{}
	for i, s := range cfg.Schedules {
		if strings.TrimSpace(s.ID) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].id is required", i))
		}
		if strings.TrimSpace(s.Spec) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].spec is required", i))
		}
		if ids[s.ID] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate id %q", i, s.ID))
		}
		ids[s.ID] = true
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Analytics.Driver)) {
	case "", "log", "none":
	case "influx", "influxdb":
		if strings.TrimSpace(cfg.Analytics.Influx.URL) == "" {
			errs = append(errs, errors.New("analytics.influx.url is required for the influx driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("analytics.driver: unknown driver %q", cfg.Analytics.Driver))
	}
	if cfg.Bus.Enabled && strings.TrimSpace(cfg.Bus.Broker) == "" {
		errs = append(errs, errors.New("bus.broker is required when bus.enabled"))
	}
	if cfg.Bus.QoS < 0 || cfg.Bus.QoS > 2 {
		errs = append(errs, fmt.Errorf("bus.qos must be 0..2, got %d", cfg.Bus.QoS))
	}

	for path, raw := range map[string]string{
		"storage.busy_timeout": cfg.Storage.BusyTimeout,
		"bus.connect_timeout":  cfg.Bus.ConnectTimeout,
		"timers.poll_interval": cfg.Timers.PollInterval,
		"data_request.timeout": cfg.DataRequest.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Registry returns the declared microservices with whitespace trimmed.
func (c *Config) Registry() []MicroserviceEntry {
	if c == nil {
		return nil
	}
	out := make([]MicroserviceEntry, 0, len(c.Microservices))
	for _, e := range c.Microservices {
		out = append(out, MicroserviceEntry{Module: strings.TrimSpace(e.Module), Type: strings.TrimSpace(e.Type)})
	}
	return out
}

// TopicPrefixOrDefault returns the bus topic prefix or its default.
func (b BusConfig) TopicPrefixOrDefault() string {
	p := strings.Trim(strings.TrimSpace(b.TopicPrefix), "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}
