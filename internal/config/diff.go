package config

import (
	"hash/fnv"
	"reflect"
	"strings"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.forward_enabled", newCfg.Logging.Forward.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		// Storage is opened once; a change only takes effect after restart.
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver), logx.Bool("storage.restart_required", true))
	}

	ob, nb := oldCfg.Bus, newCfg.Bus
	ob.Password, nb.Password = "", ""
	if ob != nb || (oldCfg.Bus.Password != "") != (newCfg.Bus.Password != "") {
		changed = append(changed, "bus")
		attrs = append(attrs,
			logx.Bool("bus.enabled", newCfg.Bus.Enabled),
			logx.String("bus.broker", strings.TrimSpace(newCfg.Bus.Broker)),
			logx.Bool("bus.password_set", newCfg.Bus.Password != ""),
			logx.Bool("bus.restart_required", true),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}

	if !reflect.DeepEqual(oldCfg.Microservices, newCfg.Microservices) {
		changed = append(changed, "microservices")
		attrs = append(attrs, logx.Int("microservices.count", len(newCfg.Microservices)))
	}

	if !reflect.DeepEqual(oldCfg.Organization, newCfg.Organization) {
		changed = append(changed, "organization")
		attrs = append(attrs, logx.Int64("organization.id", newCfg.Organization.ID))
	}

	if oldCfg.Timers != newCfg.Timers || oldCfg.DataRequest != newCfg.DataRequest {
		changed = append(changed, "runtime")
	}

	oa, na := oldCfg.Analytics, newCfg.Analytics
	oa.Influx.Token, na.Influx.Token = "", ""
	if oa != na {
		changed = append(changed, "analytics")
		attrs = append(attrs, logx.String("analytics.driver", newCfg.Analytics.Driver))
	}

	return changed, attrs
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
