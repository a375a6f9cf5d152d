package timer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/destryteeter/botlab/internal/storage"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestCancelThenSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mem := NewMemory()
	s := NewScheduler(mem, WithClock(clk.Now))

	if err := s.StartSeconds(ctx, "m1", 60, "m1daily", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.StartSeconds(ctx, "m1", 30, "m1daily", "b"); err != nil {
		t.Fatal(err)
	}
	pending := mem.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending=%d want 1", len(pending))
	}
	arg, err := pending[0].DecodeArgument()
	if err != nil || arg != "b" {
		t.Fatalf("arg=%v err=%v", arg, err)
	}
	if want := clk.t.Add(30 * time.Second); !pending[0].FireAt.Equal(want) {
		t.Fatalf("fire_at=%s want %s", pending[0].FireAt, want)
	}
}

func TestEmptyReferenceIsNotCancelled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()
	s := NewScheduler(mem)

	_ = s.StartMillis(ctx, "m1", 10, "", nil)
	_ = s.StartMillis(ctx, "m1", 20, "", nil)
	if n := len(mem.Pending()); n != 2 {
		t.Fatalf("pending=%d want 2", n)
	}
}

func TestReferencesAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()
	s := NewScheduler(mem)

	_ = s.StartSeconds(ctx, "m1", 10, "m1x", nil)
	_ = s.StartSeconds(ctx, "m2", 10, "m2x", nil)
	if err := s.Cancel(ctx, "m1x"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsRunning(ctx, "m1x"); ok {
		t.Fatal("m1x still running")
	}
	if ok, _ := s.IsRunning(ctx, "m2x"); !ok {
		t.Fatal("m2x cancelled by m1x")
	}
	if err := s.Cancel(ctx, "nothing"); err != nil {
		t.Fatalf("cancel of nothing: %v", err)
	}
}

func TestOwnerRequired(t *testing.T) {
	t.Parallel()
	s := NewScheduler(NewMemory())
	err := s.StartSeconds(context.Background(), "", 1, "x", nil)
	if !errors.Is(err, ErrNoOwner) {
		t.Fatalf("err=%v", err)
	}
}

func TestPumpFiresDueInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	clk := &fakeClock{t: base}

	backends := map[string]Backend{
		"memory":  NewMemory(),
		"durable": NewDurable(storage.NewMemory()),
	}
	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			s := NewScheduler(b, WithClock(clk.Now))
			_ = s.StartAbsolute(ctx, "m1", base.Add(2*time.Second), "m1late", "late")
			_ = s.StartAbsolute(ctx, "m2", base.Add(time.Second), "m2early", map[string]any{"n": 1})
			_ = s.StartAbsolute(ctx, "m3", base.Add(time.Hour), "m3later", nil)

			var fired []string
			p := NewPump(b, func(_ context.Context, owner string, _ any) error {
				fired = append(fired, owner)
				if owner == "m2" {
					return errors.New("boom")
				}
				return nil
			}, time.Second, logx.Nop())
			p.now = func() time.Time { return base.Add(3 * time.Second) }

			n, err := p.Tick(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 || len(fired) != 2 || fired[0] != "m2" || fired[1] != "m1" {
				t.Fatalf("fired=%v n=%d", fired, n)
			}
			next, ok, _ := b.Next(ctx)
			if !ok || !next.Equal(base.Add(time.Hour)) {
				t.Fatalf("next=%s ok=%v", next, ok)
			}
		})
	}
}

func TestPumpSkipsEntryCancelledByEarlierFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	clk := &fakeClock{t: base}

	backends := map[string]Backend{
		"memory":  NewMemory(),
		"durable": NewDurable(storage.NewMemory()),
	}
	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			s := NewScheduler(b, WithClock(clk.Now))
			if err := s.StartAbsolute(ctx, "A", base.Add(time.Second), "Afirst", "first"); err != nil {
				t.Fatal(err)
			}
			if err := s.StartAbsolute(ctx, "A", base.Add(2*time.Second), "Asecond", "second"); err != nil {
				t.Fatal(err)
			}

			var fired []any
			p := NewPump(b, func(ctx context.Context, _ string, arg any) error {
				fired = append(fired, arg)
				if arg == "first" {
					return s.Cancel(ctx, "Asecond")
				}
				return nil
			}, time.Second, logx.Nop())

			n, err := p.TickAt(ctx, base.Add(5*time.Second))
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 || !reflect.DeepEqual(fired, []any{"first"}) {
				t.Fatalf("fired=%v n=%d", fired, n)
			}
			if running, _ := s.IsRunning(ctx, "Asecond"); running {
				t.Fatal("cancelled entry still pending")
			}
		})
	}
}

// countingLock records whether it is held when the fire func runs.
type countingLock struct {
	sync.Mutex
	held bool
}

func (l *countingLock) Lock()   { l.Mutex.Lock(); l.held = true }
func (l *countingLock) Unlock() { l.held = false; l.Mutex.Unlock() }

func TestPumpHoldsLockAcrossPopAndFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	mem := NewMemory()
	s := NewScheduler(mem, WithClock(func() time.Time { return base }))
	_ = s.StartAbsolute(ctx, "m1", base, "m1a", nil)
	_ = s.StartAbsolute(ctx, "m2", base, "m2a", nil)

	l := &countingLock{}
	var heldDuringFire []bool
	p := NewPump(mem, func(context.Context, string, any) error {
		heldDuringFire = append(heldDuringFire, l.held)
		return nil
	}, time.Second, logx.Nop(), WithLock(l))

	n, err := p.TickAt(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || !reflect.DeepEqual(heldDuringFire, []bool{true, true}) {
		t.Fatalf("n=%d held=%v", n, heldDuringFire)
	}
	if l.held {
		t.Fatal("lock left held after tick")
	}
}

func TestPumpBoundsRearmingTimers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	mem := NewMemory()
	s := NewScheduler(mem, WithClock(func() time.Time { return base }))
	_ = s.StartAbsolute(ctx, "m1", base, "m1loop", nil)

	p := NewPump(mem, func(ctx context.Context, owner string, _ any) error {
		return s.StartAbsolute(ctx, owner, base, "m1loop", nil)
	}, time.Second, logx.Nop())

	n, err := p.TickAt(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if n != maxPerTick {
		t.Fatalf("n=%d", n)
	}
}
