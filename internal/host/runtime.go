// Package host wires configuration into a running gateway: the one-shot
// runtime used by the invoke command and the long-running serve loop.
package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/destryteeter/botlab/internal/analytics"
	"github.com/destryteeter/botlab/internal/bus"
	"github.com/destryteeter/botlab/internal/config"
	"github.com/destryteeter/botlab/internal/datarequest"
	"github.com/destryteeter/botlab/internal/eventbus"
	"github.com/destryteeter/botlab/internal/gateway"
	"github.com/destryteeter/botlab/internal/microservice"
	"github.com/destryteeter/botlab/internal/storage"
	"github.com/destryteeter/botlab/internal/timer"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// RegisterFunc fills the factory table. The sink is the one the runtime built.
type RegisterFunc func(f *microservice.Factories, sink analytics.Sink)

// Options adjust Build.
type Options struct {
	Register RegisterFunc

	// DryRun keeps everything in memory: no storage file, no broker, timers
	// held in process, outbound messages recorded.
	DryRun bool
	// Connect dials the broker when the bus is enabled.
	Connect bool
}

// Runtime is everything one process needs to run invocations.
type Runtime struct {
	Config    *config.Config
	Log       logx.Logger
	Store     storage.Store
	Timers    timer.Backend
	Factories microservice.Factories
	Sink      analytics.Sink
	Events    eventbus.Bus
	Gateway   *gateway.Gateway

	// Bus is the broker client, nil unless connected.
	Bus *bus.Client
	// Recorder captures outbound messages when no broker is used.
	Recorder *bus.Recorder
}

// Build opens storage, the analytics sink and (optionally) the broker, and
// assembles the gateway.
func Build(cfg *config.Config, log logx.Logger, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("host: config is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rt := &Runtime{Config: cfg, Log: log, Events: eventbus.New()}

	if opts.DryRun {
		rt.Store = storage.NewMemory()
	} else {
		sc, enabled, err := mapStorageConfig(cfg)
		if err != nil {
			return nil, err
		}
		if !enabled {
			log.Warn("storage disabled; state lives in memory for this process only")
			rt.Store = storage.NewMemory()
		} else {
			st, err := storage.Open(sc, log)
			if err != nil {
				return nil, err
			}
			rt.Store = st
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}

	if opts.DryRun {
		rt.Timers = timer.NewMemory()
	} else {
		rt.Timers = timer.NewDurable(rt.Store)
	}

	var sink analytics.Sink = analytics.NewLogSink(log)
	if !opts.DryRun {
		s, err := analytics.NewSink(mapSinkConfig(cfg), log)
		if err != nil {
			_ = rt.Store.Close()
			return nil, err
		}
		sink = s
	}
	rt.Sink = sink

	rt.Factories = microservice.Factories{}
	if opts.Register != nil {
		opts.Register(&rt.Factories, sink)
	}

	var pub microservice.Publisher
	if cfg.Bus.Enabled && opts.Connect && !opts.DryRun {
		bc, err := mapBusConfig(cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		client, err := bus.Connect(bc, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Bus = client
		pub = client
	} else {
		rt.Recorder = &bus.Recorder{}
		pub = rt.Recorder
	}

	timeout, err := config.ParseDurationOrDefault("data_request.timeout", cfg.DataRequest.Timeout, config.DefaultDataRequestTimeout)
	if err != nil {
		rt.Close()
		return nil, err
	}
	tries := cfg.DataRequest.RetryMax
	if tries <= 0 {
		tries = config.DefaultDataRequestRetries
	}

	rt.Gateway = gateway.New(gateway.Deps{
		Store:        rt.Store,
		Timers:       rt.Timers,
		Factories:    rt.Factories,
		Registry:     mapRegistry(cfg),
		Bus:          pub,
		Fetcher:      datarequest.NewHTTPFetcher(timeout, tries),
		Events:       rt.Events,
		Log:          log,
		Organization: organizationInputs(cfg),
		InstanceID:   cfg.InstanceID,
	})
	return rt, nil
}

// Validator checks what config.Validate cannot: factory types and schedule specs.
func (rt *Runtime) Validator() func(cfg *config.Config) error {
	return func(cfg *config.Config) error {
		var errs []error
		for i, e := range cfg.Registry() {
			if _, ok := rt.Factories.Lookup(e.Type); !ok {
				errs = append(errs, fmt.Errorf("microservices[%d]: unknown type %q", i, e.Type))
			}
		}
		if err := newScheduleValidator().Validate(mapSchedules(cfg)); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}

// PollInterval is how often the timer pump looks for due entries.
func (rt *Runtime) PollInterval() time.Duration {
	d, err := config.ParseDurationOrDefault("timers.poll_interval", rt.Config.Timers.PollInterval, config.DefaultPollInterval)
	if err != nil {
		return config.DefaultPollInterval
	}
	return d
}

// Close releases the broker, sink and store. Errors are logged.
func (rt *Runtime) Close() {
	if rt.Bus != nil {
		_ = rt.Bus.Close()
	}
	if rt.Sink != nil {
		if err := rt.Sink.Close(); err != nil {
			rt.Log.Warn("analytics sink close failed", logx.Err(err))
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			rt.Log.Warn("storage close failed", logx.Err(err))
		}
	}
}
