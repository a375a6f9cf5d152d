package timer

import (
	"context"
	"sync"
	"time"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// maxPerTick bounds one Tick so a handler that keeps re-arming an already
// due timer cannot starve the poll loop.
const maxPerTick = 256

// FireFunc re-enters the runtime for one due entry.
type FireFunc func(ctx context.Context, owner string, argument any) error

// Pump polls a Source and fires due entries one at a time.
type Pump struct {
	src      Source
	fire     FireFunc
	interval time.Duration
	log      logx.Logger
	now      func() time.Time
	lock     sync.Locker
}

type PumpOption func(*Pump)

// WithLock holds l around each pop and its fire, so nothing else running
// under l can cancel an entry between the two.
func WithLock(l sync.Locker) PumpOption { return func(p *Pump) { p.lock = l } }

func NewPump(src Source, fire FireFunc, interval time.Duration, log logx.Logger, opts ...PumpOption) *Pump {
	if interval <= 0 {
		interval = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pump{src: src, fire: fire, interval: interval, log: log, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until ctx is done.
func (p *Pump) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if _, err := p.Tick(ctx); err != nil {
			p.log.Warn("timer poll failed", logx.Err(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick fires everything due now and reports how many entries fired.
// A failing fire is logged; the remaining entries still fire.
func (p *Pump) Tick(ctx context.Context) (int, error) {
	return p.TickAt(ctx, p.now())
}

// TickAt is Tick with an explicit clock reading.
func (p *Pump) TickAt(ctx context.Context, now time.Time) (int, error) {
	n := 0
	for n < maxPerTick && ctx.Err() == nil {
		fired, err := p.fireNext(ctx, now)
		if err != nil {
			return n, err
		}
		if !fired {
			break
		}
		n++
	}
	return n, nil
}

// fireNext pops the earliest due entry and fires it.
func (p *Pump) fireNext(ctx context.Context, now time.Time) (bool, error) {
	if p.lock != nil {
		p.lock.Lock()
		defer p.lock.Unlock()
	}
	e, ok, err := p.src.PopNext(ctx, now)
	if err != nil || !ok {
		return false, err
	}
	arg, err := e.DecodeArgument()
	if err != nil {
		p.log.Warn("timer argument undecodable", logx.String("owner", e.Owner), logx.String("reference", e.Reference), logx.Err(err))
	}
	if err := p.fire(ctx, e.Owner, arg); err != nil {
		p.log.Error("timer fire failed",
			logx.String("owner", e.Owner),
			logx.String("reference", e.Reference),
			logx.Err(err),
		)
	}
	return true, nil
}
