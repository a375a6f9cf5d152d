package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Scheduler sets and cancels timers on a Primitive.
// Every Start* call cancels the reference first when it is non-empty,
// so at most one entry is pending per reference.
type Scheduler struct {
	prim Primitive
	log  logx.Logger
	now  func() time.Time
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithClock overrides time.Now (tests, replayed invocations).
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func NewScheduler(p Primitive, opts ...Option) *Scheduler {
	s := &Scheduler{prim: p, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// StartSeconds fires after the given number of seconds.
func (s *Scheduler) StartSeconds(ctx context.Context, owner string, seconds int, reference string, argument any) error {
	return s.StartRelative(ctx, owner, time.Duration(seconds)*time.Second, reference, argument)
}

// StartMillis fires after the given number of milliseconds.
func (s *Scheduler) StartMillis(ctx context.Context, owner string, ms int64, reference string, argument any) error {
	return s.StartRelative(ctx, owner, time.Duration(ms)*time.Millisecond, reference, argument)
}

func (s *Scheduler) StartRelative(ctx context.Context, owner string, d time.Duration, reference string, argument any) error {
	if d < 0 {
		d = 0
	}
	return s.StartAbsolute(ctx, owner, s.now().Add(d), reference, argument)
}

// StartAbsolute sets an alarm at a wall-clock instant.
func (s *Scheduler) StartAbsolute(ctx context.Context, owner string, at time.Time, reference string, argument any) error {
	if owner == "" {
		return ErrNoOwner
	}
	raw, err := encodeArgument(argument)
	if err != nil {
		return fmt.Errorf("timer argument: %w", err)
	}
	if reference != "" {
		if err := s.Cancel(ctx, reference); err != nil {
			return err
		}
	}
	e := Entry{
		ID:        uuid.NewString(),
		Owner:     owner,
		Reference: reference,
		Argument:  raw,
		FireAt:    at,
		CreatedAt: s.now(),
	}
	if err := s.prim.Schedule(ctx, e); err != nil {
		return fmt.Errorf("schedule timer %q: %w", reference, err)
	}
	s.log.Debug("timer set",
		logx.String("owner", owner),
		logx.String("reference", reference),
		logx.Time("fire_at", at),
	)
	return nil
}

// Cancel removes every pending entry under reference. Nothing pending is not an error.
func (s *Scheduler) Cancel(ctx context.Context, reference string) error {
	n, err := s.prim.Cancel(ctx, reference)
	if err != nil {
		return fmt.Errorf("cancel timer %q: %w", reference, err)
	}
	if n > 0 {
		s.log.Debug("timer cancelled", logx.String("reference", reference), logx.Int("count", n))
	}
	return nil
}

func (s *Scheduler) IsRunning(ctx context.Context, reference string) (bool, error) {
	return s.prim.Running(ctx, reference)
}

func encodeArgument(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return x, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
