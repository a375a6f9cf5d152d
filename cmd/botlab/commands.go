package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/destryteeter/botlab/internal/analytics"
	"github.com/destryteeter/botlab/internal/config"
	"github.com/destryteeter/botlab/internal/gateway"
	"github.com/destryteeter/botlab/internal/host"
	"github.com/destryteeter/botlab/internal/microservice"
	"github.com/destryteeter/botlab/plugins/analyticsrec"
	"github.com/destryteeter/botlab/plugins/daylight"
	"github.com/destryteeter/botlab/plugins/orgsettings"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Globals are shared by every command.
type Globals struct {
	Config string `short:"c" help:"Config file (JSON or YAML)" default:"./config.yaml" env:"BOTLAB_CONFIG" type:"path"`
	Debug  bool   `help:"Force debug logging"`
}

// register is the compiled-in plugin table.
func register(f *microservice.Factories, sink analytics.Sink) {
	daylight.Register(f)
	orgsettings.Register(f)
	analyticsrec.Register(f, sink)
}

// setup loads the config and starts logging.
func (g *Globals) setup() (*config.ConfigManager, *config.Config, *logx.Service, logx.Logger, error) {
	cfgm := config.NewConfigManager(g.Config)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, nil, logx.Logger{}, fmt.Errorf("load config %s: %w", g.Config, err)
	}
	lc := host.LogConfig(cfg)
	if g.Debug {
		lc.Level = "debug"
		lc.Console = true
	}
	logs, log := logx.New(lc)
	return cfgm, cfg, logs, log, nil
}

type InvokeCmd struct {
	File   string `short:"f" help:"Invocation JSON; - reads stdin" default:"-"`
	DryRun bool   `help:"Keep state, timers and outbound messages in memory"`
}

func (c *InvokeCmd) Run(ctx context.Context, g *Globals) error {
	_, cfg, logs, log, err := g.setup()
	if err != nil {
		return err
	}
	defer logs.Close()

	inv, err := readInvocation(c.File)
	if err != nil {
		return err
	}

	rt, err := host.Build(cfg, log, host.Options{Register: register, DryRun: c.DryRun, Connect: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Gateway.Invoke(ctx, inv)
	if err != nil {
		return err
	}

	out := map[string]any{
		"organizationId": res.OrganizationID,
		"triggers":       res.Kinds,
		"executed":       res.Executed,
		"created":        res.Created,
		"saved":          res.Saved,
	}
	if rt.Recorder != nil {
		out["published"] = rt.Recorder.Messages()
	}
	return printJSON(os.Stdout, out)
}

func readInvocation(path string) (gateway.Invocation, error) {
	var (
		b   []byte
		err error
	)
	if path == "" || path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return gateway.Invocation{}, err
	}
	var inv gateway.Invocation
	if err := json.Unmarshal(b, &inv); err != nil {
		return gateway.Invocation{}, fmt.Errorf("decode invocation: %w", err)
	}
	return inv, nil
}

type ServeCmd struct{}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	cfgm, cfg, logs, log, err := g.setup()
	if err != nil {
		return err
	}
	defer logs.Close()

	rt, err := host.Build(cfg, log, host.Options{Register: register, Connect: true})
	if err != nil {
		return err
	}
	log.Info("botlab starting",
		logx.String("version", version),
		logx.Int64("organization_id", cfg.Organization.ID),
		logx.Any("types", rt.Factories.Types()),
	)
	return host.NewHost(rt, cfgm, logs).Run(ctx)
}

type PublishCmd struct {
	Address    string   `arg:"" help:"Datastream address"`
	Feed       string   `help:"Feed as a JSON object" default:"{}"`
	Recipients []string `help:"Deliver only to these instance ids"`
}

func (c *PublishCmd) Run(ctx context.Context, g *Globals) error {
	_, cfg, logs, log, err := g.setup()
	if err != nil {
		return err
	}
	defer logs.Close()
	if !cfg.Bus.Enabled {
		return errors.New("bus is not enabled in config")
	}

	var feed map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(c.Feed)), &feed); err != nil {
		return fmt.Errorf("--feed: %w", err)
	}

	rt, err := host.Build(cfg, log, host.Options{Register: register, Connect: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.Bus.Publish(ctx, microservice.Message{Address: c.Address, Feed: feed, Recipients: c.Recipients})
}

type StateCmd struct {
	Organization int64 `help:"Organization id; defaults to the configured one"`
}

func (c *StateCmd) Run(ctx context.Context, g *Globals) error {
	_, cfg, logs, log, err := g.setup()
	if err != nil {
		return err
	}
	defer logs.Close()

	rt, err := host.Build(cfg, log, host.Options{Register: register})
	if err != nil {
		return err
	}
	defer rt.Close()

	id := c.Organization
	if id == 0 {
		id = cfg.Organization.ID
	}
	b, ok, err := rt.Store.LoadState(ctx, gateway.StateKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no state stored for organization %d", id)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return printJSON(os.Stdout, v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
