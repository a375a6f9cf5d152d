package organization

import (
	"context"
	"errors"
	"fmt"

	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

var ErrNoAddress = errors.New("datastream address required")

// DispatchDatastream delivers to every plugin. A failing plugin is logged and skipped.
func (o *Organization) DispatchDatastream(ctx context.Context, env *microservice.Env, address string, content map[string]any) {
	for _, key := range o.order {
		s := o.live[key]
		err := o.safeCall("datastream", key, func() error { return s.ms.Datastream(ctx, env, address, content) })
		if err != nil {
			o.log.Warn("microservice datastream failed",
				logx.String("module", key),
				logx.String("address", address),
				logx.Err(err),
			)
		}
	}
}

// DispatchDataRequestReady delivers to every plugin. A failing plugin is logged and skipped.
func (o *Organization) DispatchDataRequestReady(ctx context.Context, env *microservice.Env, reference string, content any) {
	for _, key := range o.order {
		s := o.live[key]
		err := o.safeCall("data_request_ready", key, func() error { return s.ms.DataRequestReady(ctx, env, reference, content) })
		if err != nil {
			o.log.Warn("microservice data request failed",
				logx.String("module", key),
				logx.String("reference", reference),
				logx.Err(err),
			)
		}
	}
}

// DispatchSchedule stops at the first failing plugin and returns its error.
func (o *Organization) DispatchSchedule(ctx context.Context, env *microservice.Env, scheduleID string) error {
	for _, key := range o.order {
		s := o.live[key]
		if err := o.safeCall("schedule", key, func() error { return s.ms.ScheduleFired(ctx, env, scheduleID) }); err != nil {
			return fmt.Errorf("microservice %s: %w", key, err)
		}
	}
	return nil
}

// DispatchQuestionAnswered stops at the first failing plugin and returns its error.
func (o *Organization) DispatchQuestionAnswered(ctx context.Context, env *microservice.Env, q microservice.Question) error {
	for _, key := range o.order {
		s := o.live[key]
		if err := o.safeCall("question", key, func() error { return s.ms.QuestionAnswered(ctx, env, q) }); err != nil {
			return fmt.Errorf("microservice %s: %w", key, err)
		}
	}
	return nil
}

// DispatchTimer calls TimerFired on the plugin whose stable ID is ownerID.
// It reports false when no live plugin owns the timer.
func (o *Organization) DispatchTimer(ctx context.Context, env *microservice.Env, ownerID string, argument any) (bool, error) {
	for _, key := range o.order {
		s := o.live[key]
		if s.ms.ID() != ownerID {
			continue
		}
		if err := o.safeCall("timer", key, func() error { return s.ms.TimerFired(ctx, env, argument) }); err != nil {
			return true, fmt.Errorf("microservice %s: %w", key, err)
		}
		return true, nil
	}
	o.log.Debug("timer owner not found", logx.String("owner", ownerID))
	return false, nil
}

// Distribute delivers a datastream message locally (internal) and to the
// message bus (external). Bus failures are logged, never returned.
func (o *Organization) Distribute(ctx context.Context, env *microservice.Env, address string, content map[string]any, internal, external bool) error {
	if address == "" {
		return ErrNoAddress
	}
	if content == nil {
		content = map[string]any{}
	}
	if internal {
		o.DispatchDatastream(ctx, env, address, content)
	}
	if external {
		if env == nil || env.Bus == nil {
			o.log.Debug("no message bus; external delivery skipped", logx.String("address", address))
			return nil
		}
		if err := env.Bus.Publish(ctx, microservice.Message{Address: address, Feed: content}); err != nil {
			o.log.Warn("datastream publish failed", logx.String("address", address), logx.Err(err))
		}
	}
	return nil
}

// DistributeDefault delivers both internally and externally.
func (o *Organization) DistributeDefault(ctx context.Context, env *microservice.Env, address string, content map[string]any) error {
	return o.Distribute(ctx, env, address, content, true, true)
}

// Flush runs every plugin's Flush hook before state is saved.
func (o *Organization) Flush(ctx context.Context, env *microservice.Env) {
	for _, key := range o.order {
		f, ok := o.live[key].ms.(microservice.Flusher)
		if !ok {
			continue
		}
		if err := o.safeCall("flush", key, func() error { return f.Flush(ctx, env) }); err != nil {
			o.log.Warn("microservice flush failed", logx.String("module", key), logx.Err(err))
		}
	}
}
