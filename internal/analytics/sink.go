package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

var ErrUnknownSink = errors.New("unknown analytics sink")

// Sink receives flushed analytics events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
	Close() error
}

// SinkConfig selects and configures a Sink.
type SinkConfig struct {
	Driver string // "", "log", "none", "influx"
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewSink builds the configured sink. An empty driver logs events.
func NewSink(cfg SinkConfig, log logx.Logger) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return NewLogSink(log), nil
	case "none":
		return Nop{}, nil
	case "influx", "influxdb":
		return NewInfluxSink(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, cfg.Driver)
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Write(context.Context, []Event) error { return nil }
func (Nop) Close() error                         { return nil }

// LogSink writes events to the structured log.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("component", "analytics"))}
}

func (s *LogSink) Write(_ context.Context, events []Event) error {
	for _, e := range events {
		fields := []logx.Field{
			logx.String("kind", string(e.Kind)),
			logx.Int64("organization_id", e.OrganizationID),
			logx.Time("at", e.Time),
		}
		if e.Name != "" {
			fields = append(fields, logx.String("event", e.Name))
		}
		if len(e.Properties) > 0 {
			fields = append(fields, logx.Any("properties", e.Properties))
		}
		if len(e.Unset) > 0 {
			fields = append(fields, logx.Any("unset", e.Unset))
		}
		s.log.Info("analytics", fields...)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// InfluxSink writes events as points of the "analytics" measurement.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

const measurement = "analytics"

func NewInfluxSink(cfg SinkConfig) *InfluxSink {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))
	return &InfluxSink{client: client, write: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}
}

func (s *InfluxSink) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(events))
	for _, e := range events {
		points = append(points, toPoint(e))
	}
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func toPoint(e Event) *write.Point {
	tags := map[string]string{
		"kind":            string(e.Kind),
		"organization_id": strconv.FormatInt(e.OrganizationID, 10),
	}
	if e.Name != "" {
		tags["event"] = e.Name
	}
	fields := map[string]any{"count": 1}
	for k, v := range e.Properties {
		switch x := v.(type) {
		case string, bool, int, int64, float64:
			fields[k] = x
		default:
			fields[k] = fmt.Sprint(x)
		}
	}
	if len(e.Unset) > 0 {
		fields["unset"] = strings.Join(e.Unset, ",")
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(measurement, tags, fields, at)
}
