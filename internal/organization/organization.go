// Package organization owns the live set of microservices for one organization.
//
// Each invocation reconciles the live set against the declared registry, then
// fans trigger events out to every plugin in registry order. Datastream and
// data-request deliveries are isolated per plugin; schedule and question
// deliveries stop at the first error and return it.
package organization

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/destryteeter/botlab/internal/eventbus"
	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Entry is one declared microservice: a unique module key and its plugin type.
type Entry struct {
	Module string
	Type   string
}

type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`
}

type slot struct {
	typ string
	ms  microservice.Microservice
}

type Organization struct {
	id              int64
	bornOn          time.Time
	domainName      string
	descriptiveName string
	location        Location
	properties      map[string]any
	isDaylight      bool

	order []string
	live  map[string]*slot

	factories microservice.Factories
	log       logx.Logger
	events    eventbus.Bus
}

type Option func(*Organization)

func WithLogger(log logx.Logger) Option { return func(o *Organization) { o.log = log } }
func WithEvents(b eventbus.Bus) Option  { return func(o *Organization) { o.events = b } }

// New creates an empty organization. Plugins appear on the first Initialize.
func New(id int64, bornOn time.Time, factories microservice.Factories, opts ...Option) *Organization {
	o := &Organization{
		id:         id,
		bornOn:     bornOn,
		properties: map[string]any{},
		live:       map[string]*slot{},
		factories:  factories,
	}
	o.apply(opts)
	return o
}

func (o *Organization) apply(opts []Option) {
	for _, fn := range opts {
		fn(o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.events == nil {
		o.events = eventbus.Nop()
	}
	o.log = o.log.With(logx.Int64("organization_id", o.id))
}

func (o *Organization) OrganizationID() int64   { return o.id }
func (o *Organization) BornOn() time.Time       { return o.bornOn }
func (o *Organization) DomainName() string      { return o.domainName }
func (o *Organization) DescriptiveName() string { return o.descriptiveName }
func (o *Organization) IsDaylight() bool        { return o.isDaylight }
func (o *Organization) SetDaylight(v bool)      { o.isDaylight = v }
func (o *Organization) TimeZone() string        { return o.location.Timezone }
func (o *Organization) Location() Location      { return o.location }

func (o *Organization) Coordinates() (lat, lon float64, ok bool) {
	if o.location.Latitude == nil || o.location.Longitude == nil {
		return 0, 0, false
	}
	return *o.location.Latitude, *o.location.Longitude, true
}

// Properties returns a copy of the organization properties.
func (o *Organization) Properties() map[string]any {
	out := make(map[string]any, len(o.properties))
	for k, v := range o.properties {
		out[k] = v
	}
	return out
}

func (o *Organization) UpdateProperties(props map[string]any) {
	if o.properties == nil {
		o.properties = map[string]any{}
	}
	for k, v := range props {
		o.properties[k] = v
	}
}

// Keys lists live module keys in fan-out order.
func (o *Organization) Keys() []string { return append([]string(nil), o.order...) }

func (o *Organization) Len() int { return len(o.live) }

// Get returns the live plugin under key.
func (o *Organization) Get(key string) (microservice.Microservice, bool) {
	s, ok := o.live[key]
	if !ok {
		return nil, false
	}
	return s.ms, true
}

// Initialize syncs organization facts from the invocation inputs, reconciles
// the plugin set and runs every plugin's Initialize hook.
func (o *Organization) Initialize(ctx context.Context, env *microservice.Env, registry []Entry) {
	o.syncInputs(env)
	o.Reconcile(ctx, env, registry)

	for _, key := range o.order {
		s := o.live[key]
		s.ms.Attach("", o)
		if err := o.safeCall("initialize", key, func() error { return s.ms.Initialize(ctx, env) }); err != nil {
			o.log.Error("microservice initialize failed", logx.String("module", key), logx.String("type", s.typ), logx.Err(err))
		}
	}
}

func (o *Organization) syncInputs(env *microservice.Env) {
	if v, ok := env.InputString("organization", "domainName"); ok {
		o.domainName = v
	}
	if v, ok := env.InputString("organization", "organizationName"); ok {
		o.descriptiveName = v
	}
	if v, ok := env.InputString("organization", "timezone"); ok && v != "" {
		o.location.Timezone = v
	}
	if v, ok := inputFloat(env, "latitude"); ok {
		o.location.Latitude = &v
	}
	if v, ok := inputFloat(env, "longitude"); ok {
		o.location.Longitude = &v
	}
}

func inputFloat(env *microservice.Env, key string) (float64, bool) {
	v, ok := env.Input("organization", key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// safeCall runs one plugin call, converting a panic into an error.
func (o *Organization) safeCall(stage, key string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("panic in microservice call",
				logx.String("stage", stage),
				logx.String("module", key),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s.%s: %v", key, stage, r)
		}
	}()
	return fn()
}

func (o *Organization) emit(typ string, key string, s *slot, err error) {
	ch := eventbus.MicroserviceChange{OrganizationID: o.id, Key: key}
	if s != nil {
		ch.Type = s.typ
		if s.ms != nil {
			ch.ID = s.ms.ID()
		}
	}
	if err != nil {
		ch.Err = err.Error()
	}
	o.events.Publish(eventbus.Event{Type: typ, Data: ch})
}
