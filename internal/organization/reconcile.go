package organization

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/destryteeter/botlab/internal/eventbus"
	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

var ErrUnknownType = errors.New("unknown microservice type")

// Reconcile converges the live plugin set to registry. It is idempotent.
//
// Missing entries are constructed; a failure is logged and skipped. A live entry
// whose type changed is destroyed and rebuilt. Live entries absent from the
// registry are destroyed and deleted. Fan-out order follows the registry.
func (o *Organization) Reconcile(ctx context.Context, env *microservice.Env, registry []Entry) {
	declared := make(map[string]string, len(registry))
	keys := make([]string, 0, len(registry))
	for _, e := range registry {
		if e.Module == "" {
			continue
		}
		if _, dup := declared[e.Module]; dup {
			o.log.Warn("duplicate microservice module ignored", logx.String("module", e.Module))
			continue
		}
		declared[e.Module] = e.Type
		keys = append(keys, e.Module)
	}

	// Removals first so a type change frees its timers before the rebuild arms new ones.
	for _, key := range o.liveKeysSorted() {
		typ, ok := declared[key]
		switch {
		case !ok:
			o.remove(ctx, env, key)
		case typ != o.live[key].typ:
			o.log.Info("microservice type changed",
				logx.String("module", key),
				logx.String("from", o.live[key].typ),
				logx.String("to", typ),
			)
			o.remove(ctx, env, key)
		}
	}

	for _, key := range keys {
		if _, ok := o.live[key]; ok {
			continue
		}
		o.construct(ctx, env, key, declared[key])
	}

	o.order = o.order[:0]
	for _, key := range keys {
		if _, ok := o.live[key]; ok {
			o.order = append(o.order, key)
		}
	}
}

func (o *Organization) liveKeysSorted() []string {
	out := make([]string, 0, len(o.live))
	for k := range o.live {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (o *Organization) construct(ctx context.Context, env *microservice.Env, key, typ string) {
	log := o.log.With(logx.String("module", key), logx.String("type", typ))

	fac, ok := o.factories.Lookup(typ)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownType, typ)
		log.Error("could not add microservice", logx.Err(err))
		o.emit(eventbus.MicroserviceConstructFailed, key, &slot{typ: typ}, err)
		return
	}

	var ms microservice.Microservice
	err := o.safeCall("new", key, func() error {
		ms = fac.New()
		if ms == nil {
			return errors.New("factory returned nil")
		}
		return nil
	})
	if err == nil {
		ms.Attach(uuid.NewString(), o)
		if c, ok := ms.(microservice.Constructor); ok {
			err = o.safeCall("construct", key, func() error { return c.Construct(ctx, env) })
		}
	}
	if err != nil {
		log.Error("could not add microservice", logx.Err(err))
		o.emit(eventbus.MicroserviceConstructFailed, key, &slot{typ: typ}, err)
		return
	}

	s := &slot{typ: typ, ms: ms}
	o.live[key] = s
	log.Info("microservice added", logx.String("id", ms.ID()))
	o.emit(eventbus.MicroserviceAdded, key, s, nil)
}

func (o *Organization) remove(ctx context.Context, env *microservice.Env, key string) {
	s := o.live[key]
	if s == nil {
		return
	}
	if err := o.safeCall("destroy", key, func() error { return s.ms.Destroy(ctx, env) }); err != nil {
		o.log.Error("microservice destroy failed", logx.String("module", key), logx.String("type", s.typ), logx.Err(err))
	}
	delete(o.live, key)
	o.log.Info("microservice removed", logx.String("module", key), logx.String("type", s.typ))
	o.emit(eventbus.MicroserviceRemoved, key, s, nil)
}
