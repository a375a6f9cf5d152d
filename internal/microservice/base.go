package microservice

import (
	"context"
	"time"
)

// Base supplies identity, parent reference, address dispatch and timer helpers.
// Every event method is a no-op unless the plugin overrides it.
type Base struct {
	id       string
	parent   Parent
	handlers map[string]HandlerFunc
}

func (b *Base) ID() string { return b.id }

func (b *Base) Attach(id string, parent Parent) {
	if b.id == "" {
		b.id = id
	}
	b.parent = parent
}

func (b *Base) Parent() Parent { return b.parent }

// Handle registers fn for a datastream address. Call it from the factory.
func (b *Base) Handle(address string, fn HandlerFunc) {
	if b.handlers == nil {
		b.handlers = map[string]HandlerFunc{}
	}
	b.handlers[address] = fn
}

func (b *Base) Initialize(context.Context, *Env) error { return nil }
func (b *Base) Destroy(context.Context, *Env) error    { return nil }

func (b *Base) QuestionAnswered(context.Context, *Env, Question) error { return nil }

// Datastream routes address to its registered handler. Unknown addresses are ignored.
func (b *Base) Datastream(ctx context.Context, env *Env, address string, content map[string]any) error {
	fn, ok := b.handlers[address]
	if !ok {
		return nil
	}
	return fn(ctx, env, content)
}

func (b *Base) ScheduleFired(context.Context, *Env, string) error         { return nil }
func (b *Base) TimerFired(context.Context, *Env, any) error               { return nil }
func (b *Base) DataRequestReady(context.Context, *Env, string, any) error { return nil }

// Ref is the namespaced reference used against the timer layer.
func (b *Base) Ref(reference string) string { return b.id + reference }

// StartTimer fires TimerFired(argument) after seconds.
func (b *Base) StartTimer(ctx context.Context, env *Env, seconds int, argument any, reference string) error {
	return env.Timers.StartSeconds(ctx, b.id, seconds, b.Ref(reference), argument)
}

func (b *Base) StartTimerMS(ctx context.Context, env *Env, ms int64, argument any, reference string) error {
	return env.Timers.StartMillis(ctx, b.id, ms, b.Ref(reference), argument)
}

// SetAlarm fires TimerFired(argument) at an absolute instant.
func (b *Base) SetAlarm(ctx context.Context, env *Env, at time.Time, argument any, reference string) error {
	return env.Timers.StartAbsolute(ctx, b.id, at, b.Ref(reference), argument)
}

func (b *Base) IsTimerRunning(ctx context.Context, env *Env, reference string) (bool, error) {
	return env.Timers.IsRunning(ctx, b.Ref(reference))
}

func (b *Base) CancelTimers(ctx context.Context, env *Env, reference string) error {
	return env.Timers.Cancel(ctx, b.Ref(reference))
}

// Timers and alarms share one namespace.
func (b *Base) IsAlarmRunning(ctx context.Context, env *Env, reference string) (bool, error) {
	return b.IsTimerRunning(ctx, env, reference)
}

func (b *Base) CancelAlarms(ctx context.Context, env *Env, reference string) error {
	return b.CancelTimers(ctx, env, reference)
}
