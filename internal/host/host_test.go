package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/destryteeter/botlab/internal/analytics"
	"github.com/destryteeter/botlab/internal/config"
	"github.com/destryteeter/botlab/internal/gateway"
	"github.com/destryteeter/botlab/internal/microservice"
	"github.com/destryteeter/botlab/internal/organization"
	"github.com/destryteeter/botlab/internal/schedule"
	"github.com/destryteeter/botlab/internal/timer"
	"github.com/destryteeter/botlab/plugins/orgsettings"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

func registerSettings(f *microservice.Factories, _ analytics.Sink) { orgsettings.Register(f) }

func testConfig() *config.Config {
	lat := 52.37
	return &config.Config{
		InstanceID:   "bot-1",
		Organization: config.OrganizationConfig{ID: 42, Name: "Home", Timezone: "Europe/Amsterdam", Latitude: &lat},
		Storage:      config.StorageConfig{Driver: "sqlite", Path: "/nonexistent/ignored-in-dry-run.db"},
		Bus:          config.BusConfig{Enabled: true, Broker: "tcp://127.0.0.1:1"},
		Schedules:    []config.ScheduleConfig{{ID: "morning", Spec: "0 7 * * *"}},
		Microservices: []config.MicroserviceEntry{
			{Module: "settings", Type: orgsettings.Type},
		},
	}
}

func buildDryRun(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	rt, err := Build(cfg, logx.Nop(), Options{Register: registerSettings, DryRun: true, Connect: true})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestBuildDryRunStaysInProcess(t *testing.T) {
	t.Parallel()
	rt := buildDryRun(t, testConfig())

	require.Nil(t, rt.Bus)
	require.NotNil(t, rt.Recorder)
	require.Equal(t, config.DefaultPollInterval, rt.PollInterval())

	ctx := context.Background()
	res, err := rt.Gateway.Invoke(ctx, gateway.Invocation{
		Trigger: gateway.TriggerDatastream,
		Inputs: map[string]any{"dataStream": map[string]any{
			"address": orgsettings.AddrSave,
			"feed":    map[string]any{"address": "quiet_hours", "start": "22:00"},
		}},
	})
	require.NoError(t, err)
	require.True(t, res.Saved)
	require.Equal(t, []string{"quiet_hours"}, rt.Recorder.Addresses())

	v, ok, err := rt.Store.GetAdminContent(ctx, 42, "quiet_hours")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"start":"22:00"}`, string(v))
}

func TestBuildRejectsBadDurations(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DataRequest.Timeout = "soon"
	_, err := Build(cfg, logx.Nop(), Options{DryRun: true})
	require.ErrorIs(t, err, config.ErrInvalid)
	var de *config.DurationError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "data_request.timeout", de.Field)
}

func TestValidator(t *testing.T) {
	t.Parallel()
	rt := buildDryRun(t, testConfig())
	validate := rt.Validator()

	require.NoError(t, validate(testConfig()))

	cfg := testConfig()
	cfg.Microservices = append(cfg.Microservices, config.MicroserviceEntry{Module: "x", Type: "nope"})
	require.ErrorContains(t, validate(cfg), `unknown type "nope"`)

	cfg = testConfig()
	cfg.Schedules = []config.ScheduleConfig{{ID: "bad", Spec: "every tuesday"}}
	require.Error(t, validate(cfg))
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{name: "disabled", in: config.StorageConfig{}, enabled: false},
		{name: "none", in: config.StorageConfig{Driver: " None "}, enabled: false},
		{name: "memory", in: config.StorageConfig{Driver: "memory"}, enabled: true},
		{name: "sqlite", in: config.StorageConfig{Driver: "sqlite", Path: "a.db", BusyTimeout: "2s"}, enabled: true},
		{name: "sqlite no path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy timeout", in: config.StorageConfig{Driver: "sqlite", Path: "a.db", BusyTimeout: "x"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "postgres"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.enabled, enabled)
		})
	}
}

func TestMappings(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Bus.TopicPrefix = "/home/"
	cfg.Bus.QoS = 1

	bc, err := mapBusConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "home", bc.Prefix)
	require.Equal(t, byte(1), bc.QoS)
	require.Equal(t, "bot-1", bc.InstanceID)

	require.Equal(t, map[string]any{
		"organizationId":   int64(42),
		"organizationName": "Home",
		"timezone":         "Europe/Amsterdam",
		"latitude":         52.37,
	}, organizationInputs(cfg))

	require.Equal(t, []organization.Entry{{Module: "settings", Type: orgsettings.Type}}, mapRegistry(cfg))
	require.Equal(t, []schedule.Entry{{ID: "morning", Spec: "0 7 * * *"}}, mapSchedules(cfg))
}

func TestHostApplyConfig(t *testing.T) {
	t.Parallel()
	prev := testConfig()
	rt := buildDryRun(t, prev)
	h := NewHost(rt, nil, nil)
	h.sched.Start(context.Background())
	t.Cleanup(h.sched.Stop)

	events, unsub := rt.Events.Subscribe(4)
	defer unsub()

	next := testConfig()
	next.Schedules = append(next.Schedules, config.ScheduleConfig{ID: "hourly", Spec: "1h"})
	next.Organization.Name = "Cabin"
	h.apply(prev, next)

	require.Same(t, next, rt.Config)
	require.ElementsMatch(t, []string{"morning", "hourly"}, h.sched.IDs())
	e := <-events
	require.Equal(t, "config.reloaded", e.Type)

	// A schedule fire goes through the gateway and persists state.
	h.fireSchedule(context.Background(), "hourly")
	_, ok, err := rt.Store.LoadState(context.Background(), gateway.StateKey(42))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTimerPumpWaitsForInFlightInvocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := buildDryRun(t, testConfig())
	h := NewHost(rt, nil, nil)

	now := time.Now()
	require.NoError(t, rt.Timers.Schedule(ctx, timer.Entry{ID: "t1", Owner: "gone", Reference: "gonetick", FireAt: now}))

	// Hold the invocation lock as a running bus or schedule invocation would.
	h.mu.Lock()
	done := make(chan int, 1)
	go func() {
		n, _ := h.newPump().TickAt(ctx, now)
		done <- n
	}()

	time.Sleep(50 * time.Millisecond)
	running, err := rt.Timers.Running(ctx, "gonetick")
	require.NoError(t, err)
	require.True(t, running, "entry popped while another invocation held the lock")

	// Cancelled inside the in-flight invocation: the pump must not fire it.
	_, err = rt.Timers.Cancel(ctx, "gonetick")
	require.NoError(t, err)
	h.mu.Unlock()

	select {
	case n := <-done:
		require.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not finish")
	}
}
