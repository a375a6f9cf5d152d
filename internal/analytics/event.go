package analytics

import (
	"fmt"
	"time"
)

// FromDatastream converts an analytics_* datastream message into an Event.
// ok is false when address is not an analytics address.
func FromDatastream(address string, content map[string]any, orgID int64, now time.Time) (Event, bool, error) {
	e := Event{OrganizationID: orgID, Time: now}
	switch address {
	case AddrTrack:
		e.Kind = KindTrack
		name, _ := content["event_name"].(string)
		if name == "" {
			return e, true, fmt.Errorf("%s: event_name required", address)
		}
		e.Name = name
		e.Properties = mapOf(content["properties"])
	case AddrPeopleSet:
		e.Kind = KindPeopleSet
		e.Properties = mapOf(content["properties_dict"])
	case AddrPeopleIncrement:
		e.Kind = KindPeopleIncrement
		e.Properties = mapOf(content["properties_dict"])
	case AddrPeopleUnset:
		e.Kind = KindPeopleUnset
		list, _ := content["properties_list"].([]any)
		for _, v := range list {
			if s, ok := v.(string); ok {
				e.Unset = append(e.Unset, s)
			}
		}
	default:
		return e, false, nil
	}
	return e, true, nil
}

func mapOf(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}
