package bus

import "strings"

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(strings.TrimSpace(t.Prefix), "/")
	if p == "" {
		return "botlab"
	}
	return p
}

func (t Topics) Datastream(address string) string { return t.prefix() + "/datastream/" + address }
func (t Topics) AllDatastreams() string           { return t.prefix() + "/datastream/#" }
func (t Topics) DataRequest() string              { return t.prefix() + "/datarequest" }
func (t Topics) Logs() string                     { return t.prefix() + "/logs" }

// AddressOf extracts the datastream address from a topic, or "".
func (t Topics) AddressOf(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/datastream/")
	if !ok {
		return ""
	}
	return rest
}
