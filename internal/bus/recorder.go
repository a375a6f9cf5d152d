package bus

import (
	"context"
	"sync"

	"github.com/destryteeter/botlab/internal/microservice"
)

// Recorder is a Publisher that keeps every message in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []microservice.Message
	// Err, when set, is returned by Publish after recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, m microservice.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return r.Err
}

// Messages returns a copy of what was published.
func (r *Recorder) Messages() []microservice.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]microservice.Message(nil), r.msgs...)
}

// Addresses returns the published addresses in order.
func (r *Recorder) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Address)
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
