package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
instance_id: lab-1
organization:
  id: 42
  domain_name: acme
  latitude: 47.6
  longitude: -122.3
  timezone: America/Los_Angeles
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/botlab.db
  busy_timeout: 5s
timers:
  poll_interval: 500ms
schedules:
  - id: DEFAULT
    spec: "0 * * * *"
microservices:
  - module: intelligence.daylight
    type: daylight
  - module: intelligence.organization_settings
    type: organization_settings
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("botlab.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	require.Equal(t, "lab-1", cfg.InstanceID)
	require.Equal(t, int64(42), cfg.Organization.ID)
	require.NotNil(t, cfg.Organization.Latitude)
	require.InDelta(t, 47.6, *cfg.Organization.Latitude, 1e-9)
	require.Equal(t, []MicroserviceEntry{
		{Module: "intelligence.daylight", Type: "daylight"},
		{Module: "intelligence.organization_settings", Type: "organization_settings"},
	}, cfg.Registry())
	require.Len(t, cfg.Schedules, 1)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("botlab.json", []byte(`{"microservices":[],"bogus":1}`))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()

	_, err := Decode("botlab.json", []byte(`{"microservices":[]} {"microservices":[]}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "empty", cfg: Config{}, ok: true},
		{name: "duplicate module", cfg: Config{Microservices: []MicroserviceEntry{
			{Module: "a", Type: "x"}, {Module: "a", Type: "y"},
		}}},
		{name: "missing type", cfg: Config{Microservices: []MicroserviceEntry{{Module: "a"}}}},
		{name: "unknown storage", cfg: Config{Storage: StorageConfig{Driver: "postgres"}}},
		{name: "bad duration", cfg: Config{Timers: TimersConfig{PollInterval: "soon"}}},
		{name: "bus without broker", cfg: Config{Bus: BusConfig{Enabled: true}}},
		{name: "influx without url", cfg: Config{Analytics: AnalyticsConfig{Driver: "influx"}}},
		{name: "duplicate schedule", cfg: Config{Schedules: []ScheduleConfig{
			{ID: "DEFAULT", Spec: "@hourly"}, {ID: "DEFAULT", Spec: "@daily"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BOTLAB_STORAGE_PATH", "/tmp/override.db")
	t.Setenv("BOTLAB_BUS_PASSWORD", "s3cret")
	t.Setenv("BOTLAB_ORGANIZATION_ID", "99")

	cfg := &Config{Storage: StorageConfig{Driver: "file", Path: "./a"}}
	require.NoError(t, ApplyEnv(cfg))
	require.Equal(t, "file", cfg.Storage.Driver)
	require.Equal(t, "/tmp/override.db", cfg.Storage.Path)
	require.Equal(t, "s3cret", cfg.Bus.Password)
	require.Equal(t, int64(99), cfg.Organization.ID)
}

func TestApplyEnvError(t *testing.T) {
	t.Setenv("BOTLAB_ORGANIZATION_ID", "not-an-int")

	err := ApplyEnv(&Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse env:")
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "botlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())

	ch := m.Subscribe(1)
	next := *cfg
	next.InstanceID = "lab-2"
	m.Commit(&next)
	m.publish(&next)

	select {
	case got := <-ch:
		require.Equal(t, "lab-2", got.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
	m.Unsubscribe(ch)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Bus: BusConfig{Password: "a"}}
	newCfg := &Config{Bus: BusConfig{Password: "b"}, Microservices: []MicroserviceEntry{{Module: "m", Type: "t"}}}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"microservices"}, changed)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	require.Error(t, err)

	_, err = ParseDurationOrDefault("timers.poll_interval", "soon", time.Second)
	require.ErrorIs(t, err, ErrInvalid)
	var de *DurationError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "timers.poll_interval", de.Field)
	require.Equal(t, "soon", de.Value)
}
