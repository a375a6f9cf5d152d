package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/destryteeter/botlab/internal/datarequest"
	"github.com/destryteeter/botlab/internal/microservice"
)

// Trigger bits.
const (
	TriggerSchedule    = 1
	TriggerQuestion    = 16
	TriggerTimer       = 64
	TriggerDatastream  = 256
	TriggerDataRequest = 2048
)

// DefaultScheduleID is used when a schedule trigger carries no scheduleId.
const DefaultScheduleID = "DEFAULT"

// Invocation is one external trigger.
//
// Inputs keys: organization, scheduleId, question, dataStream, data, timer.
type Invocation struct {
	Trigger int            `json:"trigger"`
	Time    *time.Time     `json:"time,omitempty"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// DatastreamMessage is the dataStream input and the inbound bus payload.
type DatastreamMessage struct {
	Address           string          `json:"address"`
	Feed              json.RawMessage `json:"feed,omitempty"`
	FromAppInstanceID string          `json:"fromAppInstanceId,omitempty"`
}

// TimerInput is the timer input of a timer trigger.
type TimerInput struct {
	Owner    string          `json:"owner"`
	Argument json.RawMessage `json:"argument,omitempty"`
}

// TriggerKinds names the bits set in trigger, in processing order.
func TriggerKinds(trigger int) []string {
	var out []string
	for _, k := range []struct {
		bit  int
		name string
	}{
		{TriggerSchedule, "schedule"},
		{TriggerQuestion, "question"},
		{TriggerDatastream, "datastream"},
		{TriggerTimer, "timer"},
		{TriggerDataRequest, "data_request"},
	} {
		if trigger&k.bit != 0 {
			out = append(out, k.name)
		}
	}
	return out
}

func kindsString(trigger int) string { return strings.Join(TriggerKinds(trigger), ",") }

// decodeInput re-decodes a generic input value into a typed target.
func decodeInput(inputs map[string]any, key string, target any) (bool, error) {
	v, ok := inputs[key]
	if !ok || v == nil {
		return false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return true, err
	}
	if err := json.Unmarshal(b, target); err != nil {
		return true, fmt.Errorf("input %s: %w", key, err)
	}
	return true, nil
}

func scheduleID(inputs map[string]any) string {
	if s, ok := inputs["scheduleId"].(string); ok && s != "" {
		return s
	}
	return DefaultScheduleID
}

func question(inputs map[string]any) (microservice.Question, error) {
	var q microservice.Question
	_, err := decodeInput(inputs, "question", &q)
	return q, err
}

func dataItems(inputs map[string]any) ([]datarequest.Item, error) {
	var items []datarequest.Item
	_, err := decodeInput(inputs, "data", &items)
	return items, err
}

// DatastreamContent builds handler content from a message. A non-object feed is
// delivered under "value"; fromAppInstanceId becomes sender_bot_id.
func DatastreamContent(m DatastreamMessage) map[string]any {
	content := map[string]any{}
	if len(m.Feed) > 0 && string(m.Feed) != "null" {
		var v any
		if err := json.Unmarshal(m.Feed, &v); err == nil {
			if obj, ok := v.(map[string]any); ok {
				content = obj
			} else {
				content["value"] = v
			}
		}
	}
	if m.FromAppInstanceID != "" {
		content["sender_bot_id"] = m.FromAppInstanceID
	}
	return content
}

// organizationID reads inputs.organization.organizationId (number or numeric string).
func organizationID(inputs map[string]any) (int64, bool) {
	org, _ := inputs["organization"].(map[string]any)
	switch v := org["organizationId"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	}
	return 0, false
}
