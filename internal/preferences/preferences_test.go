package preferences_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/preferences"
	"github.com/reminder-core/reminder/internal/store"
)

func newTestStore(t *testing.T) *preferences.Store {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenPreferences(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return preferences.New(db)
}

func TestPreferences_GetDefaults(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultChannels, got.DefaultChannels)
	assert.Equal(t, 5, got.DefaultPriority)
}

func TestPreferences_SaveAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p := entities.Preferences{
		SessionID:          "sess-1",
		DefaultChannels:    []entities.Channel{entities.ChannelVoice},
		DefaultPriority:    8,
		ConfirmDestructive: true,
		LearningFlags:      map[string]bool{"terse": true},
	}
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []entities.Channel{entities.ChannelVoice}, got.DefaultChannels)
	assert.Equal(t, 8, got.DefaultPriority)
	assert.True(t, got.ConfirmDestructive)
	assert.True(t, got.LearningFlags["terse"])

	p.DefaultPriority = 3
	require.NoError(t, s.Save(ctx, p))
	got2, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got2.DefaultPriority)
}
