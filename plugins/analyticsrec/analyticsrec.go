// Package analyticsrec buffers the analytics signals of one invocation and
// writes them to an analytics.Sink right before the organization is saved.
// The buffer is never persisted.
package analyticsrec

import (
	"context"

	"github.com/destryteeter/botlab/internal/analytics"
	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

const Type = "analytics_recorder"

type Recorder struct {
	microservice.Base

	// Flushed counts events handed to the sink over the organization's life.
	Flushed int64 `json:"flushed"`

	sink    analytics.Sink
	pending []analytics.Event
}

// Register adds the recorder type to f. A nil sink discards events.
func Register(f *microservice.Factories, sink analytics.Sink) {
	f.Register(Type, func() microservice.Microservice { return New(sink) })
}

func New(sink analytics.Sink) *Recorder {
	if sink == nil {
		sink = analytics.Nop{}
	}
	r := &Recorder{sink: sink}
	for _, addr := range []string{analytics.AddrTrack, analytics.AddrPeopleSet, analytics.AddrPeopleIncrement, analytics.AddrPeopleUnset} {
		r.Handle(addr, func(_ context.Context, env *microservice.Env, content map[string]any) error {
			return r.record(env, addr, content)
		})
	}
	return r
}

func (r *Recorder) record(env *microservice.Env, address string, content map[string]any) error {
	var orgID int64
	if p := r.Parent(); p != nil {
		orgID = p.OrganizationID()
	}
	e, ok, err := analytics.FromDatastream(address, content, orgID, env.Now())
	if err != nil || !ok {
		return err
	}
	r.pending = append(r.pending, e)
	return nil
}

// Pending returns the buffered events.
func (r *Recorder) Pending() []analytics.Event {
	return append([]analytics.Event(nil), r.pending...)
}

// Flush writes the buffer to the sink. Sink failures are logged and the
// buffer is dropped either way.
func (r *Recorder) Flush(ctx context.Context, env *microservice.Env) error {
	if len(r.pending) == 0 {
		return nil
	}
	events := r.pending
	r.pending = nil
	if err := r.sink.Write(ctx, events); err != nil {
		env.Logger().Warn("analytics flush failed", logx.Int("events", len(events)), logx.Err(err))
		return nil
	}
	r.Flushed += int64(len(events))
	return nil
}
