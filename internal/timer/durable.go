package timer

import (
	"context"
	"time"

	"github.com/destryteeter/botlab/internal/storage"
)

// Durable keeps entries in the storage timer table so they survive restarts.
type Durable struct {
	store storage.Store
}

func NewDurable(store storage.Store) *Durable { return &Durable{store: store} }

func (d *Durable) Schedule(ctx context.Context, e Entry) error {
	if e.Owner == "" {
		return ErrNoOwner
	}
	return d.store.PutTimer(ctx, storage.TimerRecord{
		ID:        e.ID,
		Owner:     e.Owner,
		Reference: e.Reference,
		Argument:  []byte(e.Argument),
		FireAt:    e.FireAt,
		CreatedAt: e.CreatedAt,
	})
}

func (d *Durable) Cancel(ctx context.Context, reference string) (int, error) {
	return d.store.DeleteTimers(ctx, reference)
}

func (d *Durable) Running(ctx context.Context, reference string) (bool, error) {
	n, err := d.store.CountTimers(ctx, reference)
	return n > 0, err
}

func (d *Durable) PopNext(ctx context.Context, now time.Time) (Entry, bool, error) {
	r, ok, err := d.store.PopNextTimer(ctx, now)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	return Entry{
		ID:        r.ID,
		Owner:     r.Owner,
		Reference: r.Reference,
		Argument:  r.Argument,
		FireAt:    r.FireAt,
		CreatedAt: r.CreatedAt,
	}, true, nil
}

func (d *Durable) Next(ctx context.Context) (time.Time, bool, error) {
	return d.store.NextTimer(ctx)
}
