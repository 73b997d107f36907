package intent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reminder-core/reminder/internal/domain/entities"
	"github.com/reminder-core/reminder/internal/intent"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNormalize_Tiers(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)
	n := intent.New()

	cases := []struct {
		name           string
		text           string
		wantNil        bool
		wantNeedsClar  bool
		wantMinConf    float64
		wantRecurrence bool
		wantChannel    entities.Channel
	}{
		{
			name:        "explicit time with trigger verb",
			text:        "remind me to call mom at 4:30pm",
			wantMinConf: 0.95,
		},
		{
			name:          "briefing add one-shot",
			text:          "add to my briefing: standup notes",
			wantNeedsClar: true,
			wantChannel:   entities.ChannelMorningBriefing,
		},
		{
			name:           "briefing recurring",
			text:           "every monday in my morning briefing help me review sprint goals",
			wantNeedsClar:  true,
			wantRecurrence: true,
			wantChannel:    entities.ChannelMorningBriefing,
		},
		{
			name:          "briefing oneshot",
			text:          "in my briefing help me prep for the board meeting",
			wantNeedsClar: true,
			wantChannel:   entities.ChannelMorningBriefing,
		},
		{
			name:        "imperative without remind me",
			text:        "set a reminder to water the plants at 9pm",
			wantMinConf: 0.90,
		},
		{
			name:        "relative time",
			text:        "remind me to check the oven in 20 minutes",
			wantMinConf: 0.90,
		},
		{
			name:          "relative time of day",
			text:          "remind me to pack a bag tomorrow morning",
			wantNeedsClar: true,
		},
		{
			name:          "simple remind with no time",
			text:          "remind me to call the dentist",
			wantNeedsClar: true,
			wantMinConf:   0.60,
		},
		{
			name:           "recurring without briefing",
			text:           "every friday help me submit my timesheet",
			wantNeedsClar:  true,
			wantRecurrence: true,
		},
		{
			name:    "negative pattern does not match",
			text:    "I already set a reminder for this",
			wantNil: true,
		},
		{
			name:    "unrelated chit chat",
			text:    "how's the weather today",
			wantNil: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := n.Normalize(tc.text, now, chicago)
			if tc.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.wantNeedsClar, got.NeedsClarification)
			if tc.wantMinConf > 0 {
				assert.GreaterOrEqual(t, got.Confidence, tc.wantMinConf)
			}
			if tc.wantRecurrence {
				require.NotNil(t, got.Recurrence)
			}
			if tc.wantChannel != "" {
				assert.Contains(t, got.Channels, tc.wantChannel)
			}
		})
	}
}

func TestNormalize_PastDueTriggersClarification(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)
	n := intent.New()

	got := n.Normalize("remind me to call mom at 9am", now, chicago)
	require.NotNil(t, got)
	assert.True(t, got.NeedsClarification)
	assert.NotEmpty(t, got.ClarifyingQuestion)
}

func TestNormalize_FarFutureWarns(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)
	n := intent.New()

	got := n.Normalize("remind me to renew passport in 600 days", now, chicago)
	require.NotNil(t, got)
	assert.Equal(t, "far_future", got.ParsedPartial.Warning)
}

func TestNormalize_TypoTolerance(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)
	n := intent.New()

	got := n.Normalize("remnd me to call mom at 4:30pm", now, chicago)
	require.NotNil(t, got)
	assert.Equal(t, "call mom", got.Message)
}

type stubFallback struct {
	res intent.FallbackResult
	err error
}

func (s stubFallback) Suggest(string) (intent.FallbackResult, error) { return s.res, s.err }

func TestNormalize_FallbackAcceptanceGate(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		fb := stubFallback{res: intent.FallbackResult{
			IntentType: "reminder.create",
			Action:     "create",
			Payload:    map[string]string{"message": "pick up dry cleaning"},
			Confidence: 0.9,
		}}
		n := intent.New(intent.WithFallback(fb))
		got := n.Normalize("please make sure I grab the package", now, chicago)
		require.NotNil(t, got)
		assert.Equal(t, "pick up dry cleaning", got.Message)
	})

	t.Run("rejected on low confidence", func(t *testing.T) {
		t.Parallel()
		fb := stubFallback{res: intent.FallbackResult{
			IntentType: "reminder.create",
			Action:     "create",
			Payload:    map[string]string{"message": "x"},
			Confidence: 0.5,
		}}
		n := intent.New(intent.WithFallback(fb))
		got := n.Normalize("please make sure I grab the package", now, chicago)
		assert.Nil(t, got)
	})

	t.Run("rejected on missing fields", func(t *testing.T) {
		t.Parallel()
		fb := stubFallback{res: intent.FallbackResult{
			IntentType:    "reminder.create",
			Action:        "create",
			Payload:       map[string]string{"message": "x"},
			Confidence:    0.95,
			MissingFields: []string{"due_at"},
		}}
		n := intent.New(intent.WithFallback(fb))
		got := n.Normalize("please make sure I grab the package", now, chicago)
		assert.Nil(t, got)
	})
}
