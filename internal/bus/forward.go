package bus

import (
	"context"
	"encoding/json"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// RawPublisher is the part of Client the log forwarder needs.
type RawPublisher interface {
	PublishRaw(ctx context.Context, topic string, payload []byte) error
}

// LogForwarder mirrors forwarded log records to <prefix>/logs.
type LogForwarder struct {
	Pub        RawPublisher
	Topics     Topics
	InstanceID string
}

var _ logx.Forwarder = (*LogForwarder)(nil)

func (f *LogForwarder) Forward(ctx context.Context, rec logx.Record) error {
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if f.InstanceID != "" {
		rec.Fields["instance_id"] = f.InstanceID
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return f.Pub.PublishRaw(ctx, f.Topics.Logs(), b)
}
