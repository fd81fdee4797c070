package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]Weekday{
		"monday":     Monday,
		"Sunday":     Sunday,
		" WEDNESDAY": Wednesday,
	} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseWeekday("mon")
	assert.Error(t, err)
}

func TestWeekdayOf(t *testing.T) {
	assert.Equal(t, Monday, WeekdayOf(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, Sunday, WeekdayOf(time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Thursday", Thursday.Title())
}

func TestStatus(t *testing.T) {
	assert.False(t, StatusRequested.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())

	assert.False(t, StatusRequested.Blocks())
	assert.True(t, StatusConfirmed.Blocks())
	assert.True(t, StatusCompleted.Blocks())
	assert.False(t, StatusCancelled.Blocks())
}

func TestHolidayCovers(t *testing.T) {
	h := &Holiday{StartDate: date("2026-12-24"), EndDate: date("2026-12-26")}
	assert.True(t, h.Covers(date("2026-12-24")))
	assert.True(t, h.Covers(time.Date(2026, 12, 26, 23, 59, 0, 0, time.UTC)))
	assert.False(t, h.Covers(date("2026-12-27")))
}
