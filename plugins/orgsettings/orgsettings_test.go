package orgsettings

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/destryteeter/botlab/internal/bus"
	"github.com/destryteeter/botlab/internal/microservice"
	"github.com/destryteeter/botlab/internal/organization"
	"github.com/destryteeter/botlab/internal/storage"
)

type fixture struct {
	org   *organization.Organization
	env   *microservice.Env
	rec   *bus.Recorder
	store *storage.Memory
}

func setup(t *testing.T) *fixture {
	t.Helper()
	fs := microservice.Factories{}
	Register(&fs)
	rec := &bus.Recorder{}
	store := storage.NewMemory()
	env := &microservice.Env{Bus: rec, Admin: store}
	org := organization.New(9, time.Unix(0, 0), fs)
	org.Initialize(context.Background(), env, []organization.Entry{{Module: "settings", Type: Type}})
	return &fixture{org: org, env: env, rec: rec, store: store}
}

func (f *fixture) plugin() *Settings {
	ms, _ := f.org.Get("settings")
	return ms.(*Settings)
}

func TestSaveSettings(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	f.org.DispatchDatastream(ctx, f.env, AddrSave, map[string]any{"address": "quiet_hours", "start": "22:00"})

	require.Equal(t, map[string]any{"start": "22:00"}, f.plugin().Settings["quiet_hours"])
	msgs := f.rec.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "quiet_hours", msgs[0].Address)
	require.Equal(t, ScopeOrganization, msgs[0].Scope)

	v, ok, err := f.store.GetAdminContent(ctx, 9, "quiet_hours")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"start":"22:00"}`, string(v))
}

func TestSaveRejectsRemoteSender(t *testing.T) {
	t.Parallel()
	f := setup(t)

	f.org.DispatchDatastream(context.Background(), f.env, AddrSave, map[string]any{"address": "x", "sender_bot_id": "other"})
	f.org.DispatchDatastream(context.Background(), f.env, AddrSave, map[string]any{"start": "no address"})

	require.Empty(t, f.plugin().Settings)
	require.Empty(t, f.rec.Messages())
}

func TestDeleteSettings(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	f.org.DispatchDatastream(ctx, f.env, AddrSave, map[string]any{"address": "a", "v": 1})
	f.org.DispatchDatastream(ctx, f.env, AddrDelete, map[string]any{"address": "a", "sender_bot_id": "other"})
	require.Contains(t, f.plugin().Settings, "a")

	f.org.DispatchDatastream(ctx, f.env, AddrDelete, map[string]any{"address": "a"})
	require.NotContains(t, f.plugin().Settings, "a")
	_, ok, err := f.store.GetAdminContent(ctx, 9, "a")
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting something unknown only warns.
	f.org.DispatchDatastream(ctx, f.env, AddrDelete, map[string]any{"address": "a"})
}

func TestGetSettingsDeliversToSender(t *testing.T) {
	t.Parallel()
	f := setup(t)
	ctx := context.Background()

	f.org.DispatchDatastream(ctx, f.env, AddrSave, map[string]any{"address": "a", "v": 1})
	f.org.DispatchDatastream(ctx, f.env, AddrSave, map[string]any{"address": "b", "v": 2})
	f.rec.Reset()

	f.org.DispatchDatastream(ctx, f.env, AddrGet, map[string]any{})
	require.Empty(t, f.rec.Messages())

	f.org.DispatchDatastream(ctx, f.env, AddrGet, map[string]any{"sender_bot_id": "bot-2"})
	addrs := f.rec.Addresses()
	sort.Strings(addrs)
	require.Equal(t, []string{"a", "b"}, addrs)
	for _, m := range f.rec.Messages() {
		require.Equal(t, []string{"bot-2"}, m.Recipients)
	}
}

func TestUnknownAddressIsNoop(t *testing.T) {
	t.Parallel()
	f := setup(t)

	f.org.DispatchDatastream(context.Background(), f.env, "not_ours", map[string]any{"address": "a"})
	require.Empty(t, f.plugin().Settings)
}
