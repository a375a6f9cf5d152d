// Package orgsettings stores organization-wide settings and shares them with
// the other bots of the organization over the message bus.
//
// Addresses:
//   - save_settings:   {"address": "<name>", ...fields}
//   - delete_settings: {"address": "<name>"}
//   - get_settings:    delivers every setting to the requesting bot
//
// Saving and deleting are local operations: a request carrying a
// sender_bot_id came from another bot and is refused.
package orgsettings

import (
	"context"
	"encoding/json"

	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

const (
	Type = "organization_settings"

	AddrSave   = "save_settings"
	AddrDelete = "delete_settings"
	AddrGet    = "get_settings"

	// ScopeOrganization addresses every bot of the organization.
	ScopeOrganization = 1
)

type Settings struct {
	microservice.Base

	Settings map[string]map[string]any `json:"settings"`
}

// Register adds the settings type to f.
func Register(f *microservice.Factories) {
	f.Register(Type, func() microservice.Microservice { return New() })
}

func New() *Settings {
	s := &Settings{Settings: map[string]map[string]any{}}
	s.Handle(AddrSave, s.save)
	s.Handle(AddrDelete, s.delete)
	s.Handle(AddrGet, s.get)
	return s
}

func (s *Settings) TimerFired(_ context.Context, env *microservice.Env, _ any) error {
	env.Logger().Info("refreshing organization", logx.Int64("organization_id", s.Parent().OrganizationID()))
	return nil
}

// request validates a save or delete request and returns its address.
func (s *Settings) request(log logx.Logger, op string, content map[string]any) (string, bool) {
	address, _ := content["address"].(string)
	if address == "" {
		log.Error(op+" has no address", logx.Any("content", content))
		return "", false
	}
	if sender, ok := content["sender_bot_id"]; ok && sender != nil && sender != "" {
		log.Error(op+" refused; security warning", logx.Any("sender_bot_id", sender))
		return "", false
	}
	return address, true
}

func (s *Settings) save(ctx context.Context, env *microservice.Env, content map[string]any) error {
	log := env.Logger().With(logx.String("plugin", Type))
	address, ok := s.request(log, AddrSave, content)
	if !ok {
		return nil
	}
	setting := make(map[string]any, len(content))
	for k, v := range content {
		if k != "address" && k != "sender_bot_id" {
			setting[k] = v
		}
	}
	if s.Settings == nil {
		s.Settings = map[string]map[string]any{}
	}
	s.Settings[address] = setting
	log.Info("settings saved", logx.String("address", address))

	if env.Bus != nil {
		if err := env.Bus.Publish(ctx, microservice.Message{Address: address, Feed: setting, Scope: ScopeOrganization}); err != nil {
			log.Warn("settings broadcast failed", logx.String("address", address), logx.Err(err))
		}
	}
	if env.Admin != nil {
		b, err := json.Marshal(setting)
		if err == nil {
			err = env.Admin.SetAdminContent(ctx, s.Parent().OrganizationID(), address, b)
		}
		if err != nil {
			log.Warn("admin content update failed", logx.String("address", address), logx.Err(err))
		}
	}
	return nil
}

func (s *Settings) delete(ctx context.Context, env *microservice.Env, content map[string]any) error {
	log := env.Logger().With(logx.String("plugin", Type))
	address, ok := s.request(log, AddrDelete, content)
	if !ok {
		return nil
	}
	if _, ok := s.Settings[address]; !ok {
		log.Warn("settings cannot be deleted; not found", logx.String("address", address))
		return nil
	}
	delete(s.Settings, address)
	log.Info("settings deleted", logx.String("address", address))
	if env.Admin != nil {
		if err := env.Admin.DeleteAdminContent(ctx, s.Parent().OrganizationID(), address); err != nil {
			log.Warn("admin content delete failed", logx.String("address", address), logx.Err(err))
		}
	}
	return nil
}

func (s *Settings) get(ctx context.Context, env *microservice.Env, content map[string]any) error {
	log := env.Logger().With(logx.String("plugin", Type))
	sender, _ := content["sender_bot_id"].(string)
	if sender == "" {
		log.Warn("get_settings requested without a bot to deliver to")
		return nil
	}
	log.Info("delivering settings", logx.String("sender_bot_id", sender), logx.Int("count", len(s.Settings)))
	if env.Bus == nil {
		return nil
	}
	for address, setting := range s.Settings {
		m := microservice.Message{Address: address, Feed: setting, Scope: ScopeOrganization, Recipients: []string{sender}}
		if err := env.Bus.Publish(ctx, m); err != nil {
			log.Warn("settings delivery failed", logx.String("address", address), logx.Err(err))
		}
	}
	return nil
}
