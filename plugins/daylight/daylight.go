// Package daylight keeps one alarm armed for the next sunrise or sunset of
// the organization's location and tells the other plugins when it fires.
package daylight

import (
	"context"
	"errors"
	"time"

	"github.com/destryteeter/botlab/internal/analytics"
	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

const (
	Type = "daylight"

	// Timer arguments.
	Sunrise = "sunrise"
	Sunset  = "sunset"

	// Internal datastream addresses distributed on firing.
	AddrSunrise = "daylight_sunrise"
	AddrSunset  = "daylight_sunset"

	nearBoundary = 5 * time.Minute
	retryAfter   = 24 * time.Hour

	fallbackSunriseHour = 8
	fallbackSunsetHour  = 20
)

var (
	// ErrAlwaysUp means the sun does not set at this latitude today.
	ErrAlwaysUp = errors.New("daylight: sun never sets")
	// ErrNeverUp means the sun does not rise at this latitude today.
	ErrNeverUp = errors.New("daylight: sun never rises")
)

// Ephemeris computes the next sunrise and sunset after an instant.
type Ephemeris interface {
	NextSunrise(lat, lon float64, after time.Time) (time.Time, error)
	NextSunset(lat, lon float64, after time.Time) (time.Time, error)
}

type Option func(*Daylight)

func WithEphemeris(e Ephemeris) Option { return func(d *Daylight) { d.eph = e } }

// Daylight is the plugin. Its exported fields are persisted.
type Daylight struct {
	microservice.Base

	NextTarget string `json:"next_target,omitempty"`
	NextAtMS   int64  `json:"next_at_ms,omitempty"`

	eph Ephemeris
}

// Register adds the daylight type to f.
func Register(f *microservice.Factories, opts ...Option) {
	f.Register(Type, func() microservice.Microservice { return New(opts...) })
}

func New(opts ...Option) *Daylight {
	d := &Daylight{}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Daylight) Construct(ctx context.Context, env *microservice.Env) error {
	d.Parent().SetDaylight(d.IsDaylight(env))
	return d.arm(ctx, env)
}

// Initialize re-arms when nothing is pending, except while a timer is being
// handled: the firing itself re-arms.
func (d *Daylight) Initialize(ctx context.Context, env *microservice.Env) error {
	if env.ExecutingTimer {
		return nil
	}
	running, err := d.IsAlarmRunning(ctx, env, "")
	if err != nil {
		return err
	}
	if running {
		return nil
	}
	return d.arm(ctx, env)
}

func (d *Daylight) TimerFired(ctx context.Context, env *microservice.Env, argument any) error {
	p := d.Parent()
	switch argument {
	case Sunrise:
		env.Logger().Info("sunrise", logx.Int64("organization_id", p.OrganizationID()))
		analytics.Track(ctx, env, p, Sunrise, nil)
		p.SetDaylight(true)
		_ = p.Distribute(ctx, env, AddrSunrise, map[string]any{}, true, false)
	case Sunset:
		env.Logger().Info("sunset", logx.Int64("organization_id", p.OrganizationID()))
		analytics.Track(ctx, env, p, Sunset, nil)
		p.SetDaylight(false)
		_ = p.Distribute(ctx, env, AddrSunset, map[string]any{}, true, false)
	}
	return d.arm(ctx, env)
}

// IsDaylight reports whether the next sunset comes before the next sunrise.
func (d *Daylight) IsDaylight(env *microservice.Env) bool {
	rise, set, err := d.targets(env, env.Now())
	switch {
	case errors.Is(err, ErrAlwaysUp):
		return true
	case err != nil:
		return false
	}
	return set.Before(rise)
}

// arm cancels our timers and sets one alarm for whichever target comes first.
// Degenerate latitudes and ephemeris failures retry in a day.
func (d *Daylight) arm(ctx context.Context, env *microservice.Env) error {
	log := env.Logger().With(logx.String("plugin", Type))
	if err := d.CancelAlarms(ctx, env, ""); err != nil {
		return err
	}

	now := env.Now()
	rise, set, err := d.targets(env, now)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlwaysUp):
			log.Info("sun doesn't set; trying again tomorrow")
		case errors.Is(err, ErrNeverUp):
			log.Info("sun doesn't rise; trying again tomorrow")
		default:
			log.Warn("ephemeris unavailable; trying again tomorrow", logx.Err(err))
		}
		d.NextTarget, d.NextAtMS = "", 0
		return d.StartTimerMS(ctx, env, retryAfter.Milliseconds(), nil, "")
	}

	// Ephemeris rounding can hand back a boundary that is right now.
	if rise.Add(-nearBoundary).Before(now) {
		rise = rise.Add(retryAfter)
	}
	if set.Add(-nearBoundary).Before(now) {
		set = set.Add(retryAfter)
	}

	p := d.Parent()
	props := map[string]any{
		"sunrise_ms": rise.UnixMilli(),
		"sunset_ms":  set.UnixMilli(),
		"timezone":   p.TimeZone(),
	}
	if lat, lon, ok := p.Coordinates(); ok {
		props["latitude"], props["longitude"] = lat, lon
	}
	p.UpdateProperties(props)

	target, at := Sunset, set
	if rise.Before(set) {
		target, at = Sunrise, rise
	}
	d.NextTarget, d.NextAtMS = target, at.UnixMilli()
	log.Info("daylight alarm set", logx.String("target", target), logx.Time("at", at))
	return d.SetAlarm(ctx, env, at, target, "")
}

func (d *Daylight) targets(env *microservice.Env, now time.Time) (rise, set time.Time, err error) {
	lat, lon, ok := d.Parent().Coordinates()
	if !ok || d.eph == nil {
		loc := d.location()
		return fallback(now, loc, fallbackSunriseHour), fallback(now, loc, fallbackSunsetHour), nil
	}
	if rise, err = d.eph.NextSunrise(lat, lon, now); err != nil {
		return rise, set, err
	}
	set, err = d.eph.NextSunset(lat, lon, now)
	return rise, set, err
}

func (d *Daylight) location() *time.Location {
	tz := d.Parent().TimeZone()
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// fallback is today's hour:00 local time, or tomorrow's once it has passed.
func fallback(now time.Time, loc *time.Location, hour int) time.Time {
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
