package timeparse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reminder-core/reminder/internal/timeparse"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParse(t *testing.T) {
	t.Parallel()

	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)

	cases := []struct {
		name    string
		text    string
		wantAt  *time.Time
		wantDay string
		wantErr bool
	}{
		{
			name:   "iso date and time",
			text:   "2026-01-15 14:30",
			wantAt: ptr(time.Date(2026, 1, 15, 14, 30, 0, 0, chicago)),
		},
		{
			name:   "at time today",
			text:   "at 4:30pm",
			wantAt: ptr(time.Date(2026, 1, 20, 16, 30, 0, 0, chicago)),
		},
		{
			name:   "relative duration hours",
			text:   "in 2 hours",
			wantAt: ptr(now.Add(2 * time.Hour)),
		},
		{
			name:   "relative duration minutes",
			text:   "in 30 min",
			wantAt: ptr(now.Add(30 * time.Minute)),
		},
		{
			name:    "tomorrow at time",
			text:    "tomorrow at 4:30 PM",
			wantAt:  ptr(time.Date(2026, 1, 21, 16, 30, 0, 0, chicago)),
		},
		{
			name:    "bare weekday with no time is partial",
			text:    "friday",
			wantDay: "friday",
		},
		{
			name:   "tonight",
			text:   "tonight",
			wantAt: ptr(time.Date(2026, 1, 20, 20, 0, 0, 0, chicago)),
		},
		{
			name:    "garbage",
			text:    "zzqx not a time",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := timeparse.Parse(tc.text, now, chicago)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.wantAt != nil {
				require.NotNil(t, res.At)
				assert.True(t, tc.wantAt.Equal(*res.At), "got %v want %v", res.At, tc.wantAt)
			}
			if tc.wantDay != "" {
				assert.Equal(t, tc.wantDay, res.Partial.Day)
			}
		})
	}
}

func TestParse_PastAtTimeNotRolledForward(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)

	res, err := timeparse.Parse("at 9am", now, chicago)
	require.NoError(t, err)
	require.NotNil(t, res.At)
	assert.True(t, res.At.Before(now), "past 'at' time must not roll forward to next day")
}

func TestParse_Deterministic(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	now := time.Date(2026, 1, 20, 14, 0, 0, 0, chicago)

	r1, err1 := timeparse.Parse("in 2 hours", now, chicago)
	r2, err2 := timeparse.Parse("in 2 hours", now, chicago)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.True(t, r1.At.Equal(*r2.At))
}

func ptr(t time.Time) *time.Time { return &t }
