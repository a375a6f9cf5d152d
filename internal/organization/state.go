package organization

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

// StateVersion is the version written into every saved state.
const StateVersion = 1

type envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	State json.RawMessage `json:"state,omitempty"`
}

type document struct {
	Version         int                 `json:"version"`
	OrganizationID  int64               `json:"organization_id"`
	BornOn          time.Time           `json:"born_on"`
	DomainName      string              `json:"domain_name,omitempty"`
	DescriptiveName string              `json:"descriptive_name,omitempty"`
	Location        Location            `json:"location"`
	Properties      map[string]any      `json:"properties,omitempty"`
	IsDaylight      bool                `json:"is_daylight"`
	Order           []string            `json:"order"`
	Microservices   map[string]envelope `json:"microservices"`
}

func (o *Organization) MarshalJSON() ([]byte, error) {
	doc := document{
		Version:         StateVersion,
		OrganizationID:  o.id,
		BornOn:          o.bornOn,
		DomainName:      o.domainName,
		DescriptiveName: o.descriptiveName,
		Location:        o.location,
		Properties:      o.properties,
		IsDaylight:      o.isDaylight,
		Order:           o.Keys(),
		Microservices:   make(map[string]envelope, len(o.live)),
	}
	for key, s := range o.live {
		state, err := json.Marshal(s.ms)
		if err != nil {
			return nil, fmt.Errorf("marshal microservice %s: %w", key, err)
		}
		doc.Microservices[key] = envelope{Type: s.typ, ID: s.ms.ID(), State: state}
	}
	return json.Marshal(doc)
}

// Decode rebuilds an organization from saved state. A microservice whose type
// has no factory, or whose state no longer decodes, is logged and dropped so
// the next reconcile can rebuild it.
func Decode(data []byte, factories microservice.Factories, opts ...Option) (*Organization, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode organization: %w", err)
	}
	if doc.Version > StateVersion {
		return nil, fmt.Errorf("decode organization: unsupported state version %d", doc.Version)
	}

	o := &Organization{
		id:              doc.OrganizationID,
		bornOn:          doc.BornOn,
		domainName:      doc.DomainName,
		descriptiveName: doc.DescriptiveName,
		location:        doc.Location,
		properties:      doc.Properties,
		isDaylight:      doc.IsDaylight,
		live:            map[string]*slot{},
		factories:       factories,
	}
	if o.properties == nil {
		o.properties = map[string]any{}
	}
	o.apply(opts)

	for key, e := range doc.Microservices {
		log := o.log.With(logx.String("module", key), logx.String("type", e.Type))
		fac, ok := factories.Lookup(e.Type)
		if !ok {
			log.Error("dropping microservice with unknown type")
			continue
		}
		var ms microservice.Microservice
		err := o.safeCall("decode", key, func() error {
			ms = fac.New()
			if len(e.State) == 0 || string(e.State) == "null" {
				return nil
			}
			return json.Unmarshal(e.State, ms)
		})
		if err != nil {
			log.Error("dropping microservice with undecodable state", logx.Err(err))
			continue
		}
		ms.Attach(e.ID, o)
		o.live[key] = &slot{typ: e.Type, ms: ms}
	}

	// Saved order first, then anything it missed.
	seen := map[string]bool{}
	for _, key := range doc.Order {
		if _, ok := o.live[key]; ok && !seen[key] {
			o.order = append(o.order, key)
			seen[key] = true
		}
	}
	var rest []string
	for key := range o.live {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	o.order = append(o.order, rest...)
	return o, nil
}
