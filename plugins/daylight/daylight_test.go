package daylight

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/destryteeter/botlab/internal/microservice"
	"github.com/destryteeter/botlab/internal/organization"
	"github.com/destryteeter/botlab/internal/timer"
)

type fakeEphemeris struct {
	rise, set time.Time
	err       error
}

func (f fakeEphemeris) NextSunrise(float64, float64, time.Time) (time.Time, error) {
	return f.rise, f.err
}

func (f fakeEphemeris) NextSunset(float64, float64, time.Time) (time.Time, error) {
	return f.set, f.err
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	org    *organization.Organization
	env    *microservice.Env
	timers *timer.Memory
	plugin *Daylight
}

func setup(t *testing.T, eph Ephemeris, orgInputs map[string]any) *fixture {
	t.Helper()
	f := microservice.Factories{}
	var opts []Option
	if eph != nil {
		opts = append(opts, WithEphemeris(eph))
	}
	Register(&f, opts...)

	mem := timer.NewMemory()
	clock := func() time.Time { return now }
	env := &microservice.Env{
		Clock:  clock,
		Timers: timer.NewScheduler(mem, timer.WithClock(clock)),
		Inputs: map[string]any{"organization": orgInputs},
	}
	org := organization.New(1, now, f)
	org.Initialize(context.Background(), env, []organization.Entry{{Module: "daylight", Type: Type}})

	ms, ok := org.Get("daylight")
	require.True(t, ok)
	return &fixture{org: org, env: env, timers: mem, plugin: ms.(*Daylight)}
}

func coords() map[string]any {
	return map[string]any{"latitude": 40.0, "longitude": -105.0, "timezone": "UTC"}
}

func onlyPending(t *testing.T, f *fixture) timer.Entry {
	t.Helper()
	p := f.timers.Pending()
	require.Len(t, p, 1)
	return p[0]
}

func argument(t *testing.T, e timer.Entry) any {
	t.Helper()
	v, err := e.DecodeArgument()
	require.NoError(t, err)
	return v
}

func TestArmsEarlierTarget(t *testing.T) {
	t.Parallel()
	eph := fakeEphemeris{rise: now.Add(18 * time.Hour), set: now.Add(7 * time.Hour)}
	f := setup(t, eph, coords())

	e := onlyPending(t, f)
	require.Equal(t, now.Add(7*time.Hour), e.FireAt)
	require.Equal(t, Sunset, argument(t, e))
	require.Equal(t, f.plugin.ID(), e.Owner)
	require.Equal(t, f.plugin.ID(), e.Reference)
	require.True(t, f.org.IsDaylight())

	props := f.org.Properties()
	require.Equal(t, now.Add(7*time.Hour).UnixMilli(), props["sunset_ms"])
	require.Equal(t, 40.0, props["latitude"])
}

func TestNearBoundaryAddsADay(t *testing.T) {
	t.Parallel()
	eph := fakeEphemeris{rise: now.Add(3 * time.Minute), set: now.Add(26 * time.Hour)}
	f := setup(t, eph, coords())

	e := onlyPending(t, f)
	require.Equal(t, now.Add(24*time.Hour+3*time.Minute), e.FireAt)
	require.Equal(t, Sunrise, argument(t, e))
}

func TestDegenerateLatitudeRetriesTomorrow(t *testing.T) {
	t.Parallel()
	for _, err := range []error{ErrAlwaysUp, ErrNeverUp} {
		f := setup(t, fakeEphemeris{err: err}, coords())

		e := onlyPending(t, f)
		require.Equal(t, now.Add(24*time.Hour), e.FireAt)
		require.Nil(t, argument(t, e))
		require.Equal(t, err == ErrAlwaysUp, f.org.IsDaylight())
	}
}

func TestFallbackWithoutCoordinates(t *testing.T) {
	t.Parallel()
	f := setup(t, fakeEphemeris{}, map[string]any{"timezone": "UTC"})

	// 12:00 now: 08:00 has passed, so sunset at 20:00 comes first.
	e := onlyPending(t, f)
	require.Equal(t, time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC), e.FireAt)
	require.Equal(t, Sunset, argument(t, e))
}

type listener struct {
	microservice.Base
	Heard []string `json:"heard"`
}

func newListener() microservice.Microservice {
	l := &listener{}
	for _, addr := range []string{AddrSunrise, AddrSunset} {
		l.Handle(addr, func(context.Context, *microservice.Env, map[string]any) error {
			l.Heard = append(l.Heard, addr)
			return nil
		})
	}
	return l
}

func TestFiringFlipsDaylightAndRearms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eph := fakeEphemeris{rise: now.Add(18 * time.Hour), set: now.Add(7 * time.Hour)}

	fs := microservice.Factories{}
	Register(&fs, WithEphemeris(eph))
	fs.Register("listener", newListener)
	mem := timer.NewMemory()
	clock := func() time.Time { return now }
	env := &microservice.Env{
		Clock:  clock,
		Timers: timer.NewScheduler(mem, timer.WithClock(clock)),
		Inputs: map[string]any{"organization": coords()},
	}
	org := organization.New(1, now, fs)
	org.Initialize(ctx, env, []organization.Entry{{Module: "daylight", Type: Type}, {Module: "listener", Type: "listener"}})
	require.True(t, org.IsDaylight())

	ms, _ := org.Get("daylight")
	env.ExecutingTimer = true
	found, err := org.DispatchTimer(ctx, env, ms.ID(), Sunset)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, org.IsDaylight())
	require.Len(t, mem.Pending(), 1)

	l, _ := org.Get("listener")
	require.Equal(t, []string{AddrSunset}, l.(*listener).Heard)
}

func TestInitializeLeavesRunningAlarm(t *testing.T) {
	t.Parallel()
	eph := fakeEphemeris{rise: now.Add(18 * time.Hour), set: now.Add(7 * time.Hour)}
	f := setup(t, eph, coords())
	first := onlyPending(t, f)

	require.NoError(t, f.plugin.Initialize(context.Background(), f.env))
	require.Equal(t, first.ID, onlyPending(t, f).ID)
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	eph := fakeEphemeris{rise: now.Add(18 * time.Hour), set: now.Add(7 * time.Hour)}
	f := setup(t, eph, coords())

	data, err := json.Marshal(f.org)
	require.NoError(t, err)
	fs := microservice.Factories{}
	Register(&fs)
	back, err := organization.Decode(data, fs)
	require.NoError(t, err)
	ms, ok := back.Get("daylight")
	require.True(t, ok)
	d := ms.(*Daylight)
	require.Equal(t, f.plugin.ID(), d.ID())
	require.Equal(t, Sunset, d.NextTarget)
}
