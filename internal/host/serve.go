package host

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/destryteeter/botlab/internal/bus"
	"github.com/destryteeter/botlab/internal/config"
	"github.com/destryteeter/botlab/internal/eventbus"
	"github.com/destryteeter/botlab/internal/gateway"
	"github.com/destryteeter/botlab/internal/runtime/supervisor"
	"github.com/destryteeter/botlab/internal/schedule"
	"github.com/destryteeter/botlab/internal/timer"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Host is the serve-mode process: every trigger source funnels into one
// gateway, one invocation at a time.
type Host struct {
	rt   *Runtime
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger

	mu    sync.Mutex // one invocation in flight
	sched *schedule.Service
}

// NewHost takes ownership of rt. cfgm and logs may be nil (no hot reload).
func NewHost(rt *Runtime, cfgm *config.ConfigManager, logs *logx.Service) *Host {
	h := &Host{rt: rt, cfgm: cfgm, logs: logs, log: rt.Log.With(logx.String("component", "host"))}
	h.sched = schedule.New(h.fireSchedule, schedule.WithLogger(rt.Log), schedule.WithLocation(orgLocation(rt.Config)))
	return h
}

func newScheduleValidator() *schedule.Service {
	return schedule.New(func(context.Context, string) {})
}

func orgLocation(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Organization.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// Invoke runs inv under the host lock.
func (h *Host) Invoke(ctx context.Context, inv gateway.Invocation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.rt.Gateway.Invoke(ctx, inv)
	return err
}

// newPump pops and fires under the invocation lock: an entry cancelled by
// any other invocation is gone before the pump can see it.
func (h *Host) newPump() *timer.Pump {
	return timer.NewPump(h.rt.Timers, h.rt.Gateway.FireTimer, h.rt.PollInterval(), h.rt.Log, timer.WithLock(&h.mu))
}

func (h *Host) fireSchedule(ctx context.Context, id string) {
	inv := gateway.Invocation{Trigger: gateway.TriggerSchedule, Inputs: map[string]any{"scheduleId": id}}
	if err := h.Invoke(ctx, inv); err != nil {
		h.log.Error("scheduled invocation failed", logx.String("schedule_id", id), logx.Err(err))
	}
}

// Run serves until ctx is done, then shuts everything down.
func (h *Host) Run(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(h.log), supervisor.WithCancelOnError(true))
	runCtx := sup.Context()

	if h.rt.Bus != nil && h.logs != nil {
		h.logs.SetForwarder(&bus.LogForwarder{Pub: h.rt.Bus, Topics: h.rt.Bus.Topics(), InstanceID: h.rt.Config.InstanceID})
		h.logs.Apply(mapLogConfig(h.rt.Config))
	}

	h.sched.Apply(mapSchedules(h.rt.Config))
	h.sched.Start(runCtx)

	sup.GoRestart("timer.pump", h.newPump().Run, time.Second, 30*time.Second)

	if h.rt.Bus != nil {
		in := &bus.Inbound{
			Topics:     h.rt.Bus.Topics(),
			InstanceID: h.rt.Config.InstanceID,
			Invoke:     h.Invoke,
			Log:        h.rt.Log,
		}
		if err := in.Listen(runCtx, h.rt.Bus); err != nil {
			h.log.Error("bus subscribe failed", logx.Err(err))
		}
	}

	events, unsub := h.rt.Events.Subscribe(128)
	sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				h.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	if h.cfgm != nil {
		h.watchConfig(sup)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		h.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		h.log.Debug("sd_notify ready sent")
	}
	h.log.Info("serving",
		logx.Int("schedules", len(h.sched.IDs())),
		logx.Bool("bus", h.rt.Bus != nil),
		logx.Duration("poll_interval", h.rt.PollInterval()),
	)

	<-runCtx.Done()
	return h.shutdown(sup)
}

func (h *Host) shutdown(sup *supervisor.Supervisor) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	h.log.Info("shutting down")

	h.sched.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sup.Stop(stopCtx)
	if err != nil {
		h.log.Warn("supervisor stop", logx.Err(err))
	}

	// Wait for an in-flight invocation before closing storage.
	h.mu.Lock()
	h.rt.Close()
	h.mu.Unlock()
	return err
}

func (h *Host) watchConfig(sup *supervisor.Supervisor) {
	h.cfgm.SetLogger(h.rt.Log.With(logx.String("component", "config")))
	validate := h.rt.Validator()
	h.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	sub := h.cfgm.Subscribe(8)
	sup.Go("config.reload", func(c context.Context) error {
		defer h.cfgm.Unsubscribe(sub)
		last := h.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Keep only the latest of a burst.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				h.apply(last, next)
				last = next
			}
		}
	})
	sup.Go("config.watch", h.cfgm.Watch)
}

func (h *Host) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		h.log.Debug("config reload received, but no effective changes detected")
		return
	}
	h.log.Debug("applying config", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage", "bus", "analytics":
			h.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if h.logs != nil {
		h.logs.Apply(mapLogConfig(next))
	}

	h.mu.Lock()
	h.rt.Config = next
	h.rt.Gateway.SetRegistry(mapRegistry(next))
	h.rt.Gateway.SetOrganization(organizationInputs(next))
	h.mu.Unlock()

	h.sched.Apply(mapSchedules(next))
	h.rt.Events.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
}
