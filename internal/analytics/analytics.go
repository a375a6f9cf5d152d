// Package analytics carries analytics signals between plugins and ships
// buffered events to a Sink.
//
// Signals are internal datastream messages: any plugin calls Track and the
// recorder plugin, listening on the analytics_* addresses, buffers the event
// until the organization is flushed.
package analytics

import (
	"context"
	"time"

	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Datastream addresses used by the signals.
const (
	AddrTrack           = "analytics_track"
	AddrPeopleSet       = "analytics_people_set"
	AddrPeopleIncrement = "analytics_people_increment"
	AddrPeopleUnset     = "analytics_people_unset"
)

// Kind of a buffered event.
type Kind string

const (
	KindTrack           Kind = "track"
	KindPeopleSet       Kind = "people_set"
	KindPeopleIncrement Kind = "people_increment"
	KindPeopleUnset     Kind = "people_unset"
)

// Event is one buffered analytics record.
type Event struct {
	Kind           Kind
	OrganizationID int64
	Name           string
	Properties     map[string]any
	Unset          []string
	Time           time.Time
}

// Track records a named event.
func Track(ctx context.Context, env *microservice.Env, p microservice.Parent, name string, props map[string]any) {
	if props == nil {
		props = map[string]any{}
	}
	send(ctx, env, p, AddrTrack, map[string]any{"event_name": name, "properties": props})
}

// PeopleSet sets attributes on the organization's people record.
func PeopleSet(ctx context.Context, env *microservice.Env, p microservice.Parent, props map[string]any) {
	send(ctx, env, p, AddrPeopleSet, map[string]any{"properties_dict": props})
}

// PeopleIncrement adds numeric deltas to people record attributes.
func PeopleIncrement(ctx context.Context, env *microservice.Env, p microservice.Parent, props map[string]any) {
	send(ctx, env, p, AddrPeopleIncrement, map[string]any{"properties_dict": props})
}

// PeopleUnset removes attributes from the people record.
func PeopleUnset(ctx context.Context, env *microservice.Env, p microservice.Parent, names []string) {
	list := make([]any, 0, len(names))
	for _, n := range names {
		list = append(list, n)
	}
	send(ctx, env, p, AddrPeopleUnset, map[string]any{"properties_list": list})
}

func send(ctx context.Context, env *microservice.Env, p microservice.Parent, address string, content map[string]any) {
	if p == nil {
		return
	}
	if err := p.Distribute(ctx, env, address, content, true, false); err != nil {
		env.Logger().Warn("analytics signal dropped", logx.String("address", address), logx.Err(err))
	}
}
