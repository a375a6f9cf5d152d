package host

import (
	"fmt"
	"strings"

	"github.com/destryteeter/botlab/internal/analytics"
	"github.com/destryteeter/botlab/internal/bus"
	"github.com/destryteeter/botlab/internal/config"
	"github.com/destryteeter/botlab/internal/organization"
	"github.com/destryteeter/botlab/internal/schedule"
	"github.com/destryteeter/botlab/internal/storage"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapBusConfig(cfg *config.Config) (bus.Config, error) {
	b := cfg.Bus
	timeout, err := config.ParseDurationOrDefault("bus.connect_timeout", b.ConnectTimeout, config.DefaultConnectTimeout)
	if err != nil {
		return bus.Config{}, err
	}
	return bus.Config{
		Broker:         strings.TrimSpace(b.Broker),
		ClientID:       b.ClientID,
		Username:       b.Username,
		Password:       b.Password,
		Prefix:         b.TopicPrefixOrDefault(),
		QoS:            byte(b.QoS),
		RatePerSec:     b.RatePerSec,
		Burst:          b.Burst,
		ConnectTimeout: timeout,
		InstanceID:     cfg.InstanceID,
	}, nil
}

func mapSinkConfig(cfg *config.Config) analytics.SinkConfig {
	a := cfg.Analytics
	return analytics.SinkConfig{
		Driver: a.Driver,
		URL:    a.Influx.URL,
		Token:  a.Influx.Token,
		Org:    a.Influx.Org,
		Bucket: a.Influx.Bucket,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Forward: logx.ForwardConfig{Enabled: l.Forward.Enabled, MinLevel: l.Forward.MinLevel, RatePerSec: l.Forward.RatePerSec},
	}
}

// LogConfig exposes the logging mapping to the CLI.
func LogConfig(cfg *config.Config) logx.Config { return mapLogConfig(cfg) }

func mapRegistry(cfg *config.Config) []organization.Entry {
	reg := cfg.Registry()
	out := make([]organization.Entry, 0, len(reg))
	for _, e := range reg {
		out = append(out, organization.Entry{Module: e.Module, Type: e.Type})
	}
	return out
}

func mapSchedules(cfg *config.Config) []schedule.Entry {
	out := make([]schedule.Entry, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		out = append(out, schedule.Entry{ID: strings.TrimSpace(s.ID), Spec: s.Spec})
	}
	return out
}

// organizationInputs turns the organization section into the default
// "organization" invocation input.
func organizationInputs(cfg *config.Config) map[string]any {
	o := cfg.Organization
	in := map[string]any{"organizationId": o.ID}
	if o.DomainName != "" {
		in["domainName"] = o.DomainName
	}
	if o.Name != "" {
		in["organizationName"] = o.Name
	}
	if o.Timezone != "" {
		in["timezone"] = o.Timezone
	}
	if o.Latitude != nil {
		in["latitude"] = *o.Latitude
	}
	if o.Longitude != nil {
		in["longitude"] = *o.Longitude
	}
	return in
}
