package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	out := map[string]Store{"memory": NewMemory()}
	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "file", "botlab.json")}, logx.Nop())
	require.NoError(t, err)
	out["file"] = fs
	ss, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "botlab.db")}, logx.Nop())
	require.NoError(t, err)
	out["sqlite"] = ss

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"", "none", " NONE "} {
		s, err := Open(Config{Driver: d}, logx.Nop())
		require.Nil(t, s)
		require.True(t, errors.Is(err, ErrDisabled), d)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.LoadState(ctx, "org/1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.SaveState(ctx, "org/1", []byte(`{"version":1}`)))
			require.NoError(t, s.SaveState(ctx, "org/1", []byte(`{"version":2}`)))
			got, ok, err := s.LoadState(ctx, "org/1")
			require.NoError(t, err)
			require.True(t, ok)
			require.JSONEq(t, `{"version":2}`, string(got))
		})
	}
}

func TestTimers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutTimer(ctx, TimerRecord{ID: "b", Owner: "m", Reference: "mday", FireAt: base.Add(2 * time.Second), CreatedAt: base}))
			require.NoError(t, s.PutTimer(ctx, TimerRecord{ID: "a", Owner: "m", Reference: "mnight", Argument: []byte(`"sunset"`), FireAt: base.Add(time.Second), CreatedAt: base}))
			require.NoError(t, s.PutTimer(ctx, TimerRecord{ID: "c", Owner: "m", Reference: "mday", FireAt: base.Add(time.Hour), CreatedAt: base}))

			n, err := s.CountTimers(ctx, "mday")
			require.NoError(t, err)
			require.Equal(t, 2, n)

			next, ok, err := s.NextTimer(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, next.Equal(base.Add(time.Second)))

			first, ok, err := s.PopNextTimer(ctx, base.Add(5*time.Second))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "a", first.ID)
			require.Equal(t, `"sunset"`, string(first.Argument))

			second, ok, err := s.PopNextTimer(ctx, base.Add(5*time.Second))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "b", second.ID)

			_, ok, err = s.PopNextTimer(ctx, base.Add(5*time.Second))
			require.NoError(t, err)
			require.False(t, ok)

			removed, err := s.DeleteTimers(ctx, "mday")
			require.NoError(t, err)
			require.Equal(t, 1, removed)

			_, ok, err = s.NextTimer(ctx)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestAdminContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetAdminContent(ctx, 7, "settings", []byte("x")))
			v, ok, err := s.GetAdminContent(ctx, 7, "settings")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "x", string(v))

			_, ok, err = s.GetAdminContent(ctx, 8, "settings")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.DeleteAdminContent(ctx, 7, "settings"))
			_, ok, err = s.GetAdminContent(ctx, 7, "settings")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.AppendInvocation(ctx, InvocationEntry{At: time.Now(), Trigger: 1, Kinds: "schedule", Executed: true, Saved: true}))
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "botlab.json")

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.SaveState(ctx, "org/1", []byte(`{"a":1}`)))
	require.NoError(t, s.PutTimer(ctx, TimerRecord{ID: "t1", Reference: "r", FireAt: time.Unix(10, 0)}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.LoadState(ctx, "org/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"a":1}`, string(got))
	n, err := s.CountTimers(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.Close())
	require.ErrorIs(t, m.SaveState(context.Background(), "k", nil), ErrClosed)
}
