package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/destryteeter/botlab/internal/gateway"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Subscriber is the part of Client that Listen needs.
type Subscriber interface {
	Subscribe(topic string, handler MessageHandler) error
}

// InvokeFunc runs one invocation built from an inbound message.
type InvokeFunc func(ctx context.Context, inv gateway.Invocation) error

// inboundDatastream is the wire form of a datastream message.
type inboundDatastream struct {
	Address           string          `json:"address"`
	Feed              json.RawMessage `json:"feed"`
	Recipients        []string        `json:"recipients,omitempty"`
	FromAppInstanceID string          `json:"fromAppInstanceId,omitempty"`
}

// Inbound turns bus messages into invocations.
type Inbound struct {
	Topics     Topics
	InstanceID string
	Invoke     InvokeFunc
	Log        logx.Logger
}

// Listen subscribes to the datastream and data request topics. Handlers run
// on paho goroutines with ctx as their parent context.
func (in *Inbound) Listen(ctx context.Context, s Subscriber) error {
	if in.Log.IsZero() {
		in.Log = logx.Nop()
	}
	if err := s.Subscribe(in.Topics.AllDatastreams(), func(topic string, payload []byte) error {
		return in.HandleDatastream(ctx, topic, payload)
	}); err != nil {
		return err
	}
	return s.Subscribe(in.Topics.DataRequest(), func(_ string, payload []byte) error {
		return in.HandleDataRequest(ctx, payload)
	})
}

// HandleDatastream decodes one datastream message and invokes the datastream
// trigger. The topic supplies the address when the payload has none.
func (in *Inbound) HandleDatastream(ctx context.Context, topic string, payload []byte) error {
	var m inboundDatastream
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("datastream payload: %w", err)
	}
	if m.Address == "" {
		m.Address = in.Topics.AddressOf(topic)
	}
	if in.InstanceID != "" && m.FromAppInstanceID == in.InstanceID {
		return nil
	}
	if len(m.Recipients) > 0 && !slices.Contains(m.Recipients, in.InstanceID) {
		in.Log.Debug("datastream not addressed to us", logx.String("address", m.Address))
		return nil
	}
	ds := map[string]any{"address": m.Address}
	if len(m.Feed) > 0 {
		ds["feed"] = m.Feed
	}
	if m.FromAppInstanceID != "" {
		ds["fromAppInstanceId"] = m.FromAppInstanceID
	}
	return in.Invoke(ctx, gateway.Invocation{
		Trigger: gateway.TriggerDatastream,
		Inputs:  map[string]any{"dataStream": ds},
	})
}

// HandleDataRequest accepts either {"data": [...]} or a bare item array.
func (in *Inbound) HandleDataRequest(ctx context.Context, payload []byte) error {
	var items []any
	if err := json.Unmarshal(payload, &items); err != nil {
		var wrapped struct {
			Data []any `json:"data"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return fmt.Errorf("data request payload: %w", err)
		}
		items = wrapped.Data
	}
	if len(items) == 0 {
		in.Log.Warn("data request without items; ignoring")
		return nil
	}
	return in.Invoke(ctx, gateway.Invocation{
		Trigger: gateway.TriggerDataRequest,
		Inputs:  map[string]any{"data": items},
	})
}
