package microservice

import (
	"context"
	"sort"
)

// Question is an answered question delivered to QuestionAnswered.
type Question struct {
	Key        string         `json:"key"`
	Answer     any            `json:"answer"`
	Collection string         `json:"collection,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Microservice is one live plugin instance owned by an organization.
type Microservice interface {
	ID() string
	// Attach sets the stable ID (when empty) and refreshes the parent reference.
	Attach(id string, parent Parent)
	Parent() Parent

	Initialize(ctx context.Context, env *Env) error
	Destroy(ctx context.Context, env *Env) error

	QuestionAnswered(ctx context.Context, env *Env, q Question) error
	Datastream(ctx context.Context, env *Env, address string, content map[string]any) error
	ScheduleFired(ctx context.Context, env *Env, scheduleID string) error
	TimerFired(ctx context.Context, env *Env, argument any) error
	DataRequestReady(ctx context.Context, env *Env, reference string, content any) error
}

// Constructor runs once when a plugin is first created, never on reload.
type Constructor interface {
	Construct(ctx context.Context, env *Env) error
}

// Flusher runs right before organization state is saved.
type Flusher interface {
	Flush(ctx context.Context, env *Env) error
}

// Parent is the organization as seen by its plugins.
type Parent interface {
	OrganizationID() int64
	// Distribute delivers a datastream message. internal re-enters local
	// dispatch; external publishes to the message bus.
	Distribute(ctx context.Context, env *Env, address string, content map[string]any, internal, external bool) error
	Coordinates() (lat, lon float64, ok bool)
	TimeZone() string
	UpdateProperties(props map[string]any)
	SetDaylight(daylight bool)
}

// HandlerFunc handles one datastream address.
type HandlerFunc func(ctx context.Context, env *Env, content map[string]any) error

// Factory builds a bare plugin value with its handler map registered.
// It must not touch env or schedule anything.
type Factory struct {
	New func() Microservice
}

// Factories is the compile-time table of plugin types.
type Factories map[string]Factory

// Register adds a plugin type. A later registration replaces an earlier one.
func (f *Factories) Register(typ string, fn func() Microservice) {
	if *f == nil {
		*f = Factories{}
	}
	(*f)[typ] = Factory{New: fn}
}

func (f Factories) Lookup(typ string) (Factory, bool) {
	fac, ok := f[typ]
	return fac, ok && fac.New != nil
}

// Types lists registered plugin types in sorted order.
func (f Factories) Types() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
