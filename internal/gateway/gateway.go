// Package gateway is the single entry point of the runtime. Every invocation
// loads the organization, dispatches its triggers and saves the state once.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/destryteeter/botlab/internal/analytics"
	"github.com/destryteeter/botlab/internal/datarequest"
	"github.com/destryteeter/botlab/internal/eventbus"
	"github.com/destryteeter/botlab/internal/microservice"
	"github.com/destryteeter/botlab/internal/organization"
	"github.com/destryteeter/botlab/internal/storage"
	"github.com/destryteeter/botlab/internal/timer"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

var ErrNoOrganization = errors.New("organization id unknown")

// Deps wires a Gateway.
type Deps struct {
	Store     storage.Store
	Timers    timer.Primitive
	Factories microservice.Factories
	Registry  []organization.Entry
	Bus       microservice.Publisher
	Fetcher   datarequest.Fetcher
	Events    eventbus.Bus
	Log       logx.Logger

	// Organization holds the default organization inputs (organizationId,
	// domainName, ...). Invocation inputs override them key by key.
	Organization map[string]any
	InstanceID   string
	Clock        func() time.Time
}

type Gateway struct {
	d Deps
}

// Result describes a finished invocation.
type Result struct {
	OrganizationID int64
	Kinds          []string
	Executed       bool
	Created        bool
	Saved          bool
}

func New(d Deps) *Gateway {
	if d.Store == nil {
		d.Store = storage.NewMemory()
	}
	if d.Timers == nil {
		d.Timers = timer.NewMemory()
	}
	if d.Events == nil {
		d.Events = eventbus.Nop()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	d.Log = d.Log.With(logx.String("component", "gateway"))
	return &Gateway{d: d}
}

// StateKey is the storage key of an organization's state blob.
func StateKey(orgID int64) string { return "organization/" + strconv.FormatInt(orgID, 10) }

// SetRegistry replaces the declared microservices (config reload).
// Callers must not invoke concurrently.
func (g *Gateway) SetRegistry(r []organization.Entry) { g.d.Registry = r }

// SetOrganization replaces the default organization inputs (config reload).
// Callers must not invoke concurrently.
func (g *Gateway) SetOrganization(inputs map[string]any) { g.d.Organization = inputs }

// Invoke runs one invocation.
func (g *Gateway) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return g.run(ctx, inv, nil)
}

type timerCall struct {
	owner    string
	argument any
}

// FireTimer is the re-entry point for a due timer or alarm: load, dispatch to
// the owning microservice, save. It assumes nothing from the invocation that
// scheduled it.
//
// Timer entries carry no organization id: a process hosts one organization,
// so the fire loads the configured default. The owner id is a UUID, so an
// entry left over from another organization finds no owner and is a no-op.
func (g *Gateway) FireTimer(ctx context.Context, owner string, argument any) error {
	_, err := g.run(ctx, Invocation{Trigger: TriggerTimer}, &timerCall{owner: owner, argument: argument})
	return err
}

func (g *Gateway) run(ctx context.Context, inv Invocation, tc *timerCall) (res Result, err error) {
	start := g.d.Clock()
	inputs := g.mergeInputs(inv.Inputs)
	res.Kinds = TriggerKinds(inv.Trigger)
	log := g.d.Log.With(logx.Int("trigger", inv.Trigger))
	log.Info("invocation started", logx.Any("kinds", res.Kinds))

	journal := storage.InvocationEntry{At: start, Trigger: inv.Trigger, Kinds: kindsString(inv.Trigger), Timer: tc != nil}
	if tc != nil {
		journal.Reference = tc.owner
	}
	defer func() {
		journal.Executed = res.Executed
		journal.Saved = res.Saved
		journal.TookMS = time.Since(start).Milliseconds()
		if err != nil {
			journal.Error = err.Error()
		}
		if jerr := g.d.Store.AppendInvocation(context.WithoutCancel(ctx), journal); jerr != nil {
			log.Warn("invocation journal append failed", logx.Err(jerr))
		}
		summary := eventbus.InvocationSummary{Trigger: inv.Trigger, Kinds: journal.Kinds, Saved: res.Saved, Err: journal.Error}
		g.d.Events.Publish(eventbus.Event{Type: eventbus.InvocationCompleted, Data: summary})
		log.Info("invocation finished",
			logx.Bool("executed", res.Executed),
			logx.Bool("saved", res.Saved),
			logx.Int64("took_ms", journal.TookMS),
		)
	}()

	env := g.newEnv(inv, inputs, tc != nil)
	org, created, err := g.load(ctx, env, inputs)
	if err != nil {
		return res, err
	}
	res.OrganizationID = org.OrganizationID()
	res.Created = created

	if inv.Trigger&TriggerSchedule != 0 {
		res.Executed = true
		id := scheduleID(inputs)
		log.Info("schedule fired", logx.String("schedule_id", id))
		if err := org.DispatchSchedule(ctx, env, id); err != nil {
			return res, fmt.Errorf("schedule %s: %w", id, err)
		}
	}

	if inv.Trigger&TriggerQuestion != 0 {
		res.Executed = true
		q, err := question(inputs)
		if err != nil {
			return res, err
		}
		log.Info("question answered", logx.String("key", q.Key), logx.Any("answer", q.Answer))
		if err := org.DispatchQuestionAnswered(ctx, env, q); err != nil {
			return res, fmt.Errorf("question %s: %w", q.Key, err)
		}
	}

	if inv.Trigger&TriggerDatastream != 0 {
		res.Executed = true
		g.datastream(ctx, env, org, inputs, log)
	}

	if inv.Trigger&TriggerTimer != 0 {
		res.Executed = true
		if err := g.timer(ctx, env, org, inputs, tc, log); err != nil {
			return res, err
		}
	}

	if inv.Trigger&TriggerDataRequest != 0 {
		res.Executed = true
		g.dataRequest(ctx, env, org, inputs, log)
		// Data requests return without saving so partial multi-reference
		// deliveries are never committed.
		org.Flush(ctx, env)
		return res, nil
	}

	if !res.Executed {
		log.Error("unknown trigger", logx.Int("trigger", inv.Trigger))
	}

	org.Flush(ctx, env)
	if err := g.save(ctx, org); err != nil {
		return res, err
	}
	res.Saved = true
	return res, nil
}

func (g *Gateway) mergeInputs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	org := map[string]any{}
	for k, v := range g.d.Organization {
		org[k] = v
	}
	if m, ok := in["organization"].(map[string]any); ok {
		for k, v := range m {
			org[k] = v
		}
	}
	out["organization"] = org
	return out
}

func (g *Gateway) newEnv(inv Invocation, inputs map[string]any, executingTimer bool) *microservice.Env {
	clock := g.d.Clock
	if inv.Time != nil {
		at := *inv.Time
		clock = func() time.Time { return at }
	}
	log := g.d.Log
	return &microservice.Env{
		Log:            log,
		Clock:          clock,
		Timers:         timer.NewScheduler(g.d.Timers, timer.WithLogger(log), timer.WithClock(clock)),
		Bus:            g.d.Bus,
		Admin:          g.d.Store,
		Inputs:         inputs,
		ExecutingTimer: executingTimer || inv.Trigger&TriggerTimer != 0,
		InstanceID:     g.d.InstanceID,
	}
}

// load returns the saved organization or creates, initializes and saves a new one.
func (g *Gateway) load(ctx context.Context, env *microservice.Env, inputs map[string]any) (*organization.Organization, bool, error) {
	orgID, ok := organizationID(inputs)
	if !ok {
		return nil, false, ErrNoOrganization
	}
	opts := []organization.Option{organization.WithLogger(g.d.Log), organization.WithEvents(g.d.Events)}

	var (
		org     *organization.Organization
		created bool
	)
	data, found, err := g.d.Store.LoadState(ctx, StateKey(orgID))
	if err != nil {
		return nil, false, fmt.Errorf("load organization: %w", err)
	}
	if found {
		org, err = organization.Decode(data, g.d.Factories, opts...)
		if err != nil {
			g.d.Log.Error("unable to load the organization; starting over", logx.Int64("organization_id", orgID), logx.Err(err))
			org = nil
		}
	}
	if org == nil {
		g.d.Log.Info("creating a new organization", logx.Int64("organization_id", orgID))
		org = organization.New(orgID, env.Now(), g.d.Factories, opts...)
		created = true
	}

	org.Initialize(ctx, env, g.d.Registry)
	if created {
		analytics.Track(ctx, env, org, "reset", nil)
		// Persist right away: the invocation may still end without a save
		// (data request, propagated error), and a lost organization would be
		// created again with fresh microservice ids, orphaning their timers.
		if err := g.save(ctx, org); err != nil {
			return nil, false, err
		}
	}
	return org, created, nil
}

func (g *Gateway) save(ctx context.Context, org *organization.Organization) error {
	data, err := json.Marshal(org)
	if err != nil {
		return fmt.Errorf("save organization: %w", err)
	}
	if err := g.d.Store.SaveState(ctx, StateKey(org.OrganizationID()), data); err != nil {
		return fmt.Errorf("save organization: %w", err)
	}
	return nil
}

func (g *Gateway) datastream(ctx context.Context, env *microservice.Env, org *organization.Organization, inputs map[string]any, log logx.Logger) {
	var msg DatastreamMessage
	found, err := decodeInput(inputs, "dataStream", &msg)
	if err != nil || !found || msg.Address == "" {
		log.Warn("datastream message has no address; ignoring", logx.Err(err))
		return
	}
	log.Info("datastream", logx.String("address", msg.Address))
	org.DispatchDatastream(ctx, env, msg.Address, DatastreamContent(msg))
}

func (g *Gateway) timer(ctx context.Context, env *microservice.Env, org *organization.Organization, inputs map[string]any, tc *timerCall, log logx.Logger) error {
	if tc == nil {
		var in TimerInput
		found, err := decodeInput(inputs, "timer", &in)
		if err != nil {
			return err
		}
		if !found || in.Owner == "" {
			log.Warn("timer trigger without an owner; ignoring")
			return nil
		}
		arg, err := timer.DecodeArgument(in.Argument)
		if err != nil {
			return fmt.Errorf("timer argument: %w", err)
		}
		tc = &timerCall{owner: in.Owner, argument: arg}
	}
	log.Info("timer fired", logx.String("owner", tc.owner))
	if _, err := org.DispatchTimer(ctx, env, tc.owner, tc.argument); err != nil {
		return fmt.Errorf("timer %s: %w", tc.owner, err)
	}
	return nil
}

func (g *Gateway) dataRequest(ctx context.Context, env *microservice.Env, org *organization.Organization, inputs map[string]any, log logx.Logger) {
	items, err := dataItems(inputs)
	if err != nil {
		log.Error("data request input invalid", logx.Err(err))
		return
	}
	log.Info("data request received", logx.Int("items", len(items)))
	groups, err := datarequest.Collect(ctx, g.d.Fetcher, items, log)
	if err != nil {
		log.Error("data request unavailable", logx.Err(err))
		return
	}
	for _, grp := range groups {
		org.DispatchDataRequestReady(ctx, env, grp.Reference, grp.Content)
	}
	log.Info("data request delivered", logx.Any("references", datarequest.References(groups)))
}
