package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOccurrence_Weekday(t *testing.T) {
	t.Parallel()
	// Friday 09:00 -> next weekday occurrence is Monday 09:00.
	friday := time.Date(2026, 1, 23, 9, 0, 0, 0, time.UTC)
	next, err := NextOccurrence("weekday_morning", friday, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
}

func TestNextOccurrence_SpecificDay(t *testing.T) {
	t.Parallel()
	monday := time.Date(2026, 1, 19, 7, 30, 0, 0, time.UTC)
	next, err := NextOccurrence("friday_morning", monday, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Friday, next.Weekday())
	assert.Equal(t, 7, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestNextOccurrence_Unrecognized(t *testing.T) {
	t.Parallel()
	_, err := NextOccurrence("bogus", time.Now().UTC(), time.UTC)
	assert.Error(t, err)
}

func TestBackoffFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 60*time.Second, backoffFor(1))
	assert.Equal(t, 120*time.Second, backoffFor(2))
	assert.Equal(t, 240*time.Second, backoffFor(3))
}

func TestTruncateBody(t *testing.T) {
	t.Parallel()
	short := "hello"
	assert.Equal(t, short, TruncateBody(short))

	long := make([]byte, MaxBodyBytes+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, TruncateBody(string(long)), MaxBodyBytes)
}

func TestHasTokenLoop(t *testing.T) {
	t.Parallel()
	assert.False(t, HasTokenLoop("a perfectly normal reminder body"))

	repeated := ""
	for i := 0; i < 12; i++ {
		repeated += "loop "
	}
	assert.True(t, HasTokenLoop(repeated))

	manyAssistant := ""
	for i := 0; i < 11; i++ {
		manyAssistant += "assistant said something. "
	}
	assert.True(t, HasTokenLoop(manyAssistant))
}
