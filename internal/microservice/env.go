package microservice

import (
	"context"
	"time"

	"github.com/destryteeter/botlab/internal/timer"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Message is an outbound datastream message.
type Message struct {
	Address    string         `json:"address"`
	Feed       map[string]any `json:"feed"`
	Scope      int            `json:"scope,omitempty"`
	Recipients []string       `json:"recipients,omitempty"`
	// FromInstanceID is filled by the bus when empty.
	FromInstanceID string `json:"fromAppInstanceId,omitempty"`
}

// Publisher sends datastream messages to other processes.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// AdminStore holds per-organization content shown to operators.
type AdminStore interface {
	SetAdminContent(ctx context.Context, orgID int64, key string, value []byte) error
	DeleteAdminContent(ctx context.Context, orgID int64, key string) error
}

// Env is everything a plugin may touch during one invocation.
// Nothing in it outlives the invocation.
type Env struct {
	Log    logx.Logger
	Clock  func() time.Time
	Timers *timer.Scheduler
	Bus    Publisher
	Admin  AdminStore
	// Inputs are the raw invocation inputs (organization, scheduleId, ...).
	Inputs map[string]any
	// ExecutingTimer is true while a timer or alarm invocation runs.
	ExecutingTimer bool
	InstanceID     string
}

func (e *Env) Now() time.Time {
	if e == nil || e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

// Logger returns the env logger, or a no-op logger.
func (e *Env) Logger() logx.Logger {
	if e == nil || e.Log.IsZero() {
		return logx.Nop()
	}
	return e.Log
}

// Input returns a nested input value by path, e.g. Input("organization", "domainName").
func (e *Env) Input(path ...string) (any, bool) {
	if e == nil {
		return nil, false
	}
	var cur any = e.Inputs
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// InputString is Input for string leaves.
func (e *Env) InputString(path ...string) (string, bool) {
	v, ok := e.Input(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
