package frequency

import (
	"testing"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowBounds(t *testing.T) {
	// Wednesday
	anchor := time.Date(2024, 5, 15, 13, 42, 10, 0, time.UTC)

	tests := []struct {
		name      string
		kind      models.WindowKind
		wantStart time.Time
		wantNext  time.Time
	}{
		{
			name:      "hourly truncates to the top of the hour",
			kind:      models.WindowHourly,
			wantStart: time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2024, 5, 15, 14, 0, 0, 0, time.UTC),
		},
		{
			name:      "daily truncates to midnight",
			kind:      models.WindowDaily,
			wantStart: time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly starts on Sunday",
			kind:      models.WindowWeekly,
			wantStart: time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2024, 5, 19, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly starts on the first",
			kind:      models.WindowMonthly,
			wantStart: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			wantNext:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, next, err := WindowBounds(anchor, tt.kind, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}

func TestWindowBounds_WeeklyOnSunday(t *testing.T) {
	sunday := time.Date(2024, 5, 12, 23, 0, 0, 0, time.UTC)
	start, next, err := WindowBounds(sunday, models.WindowWeekly, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 5, 19, 0, 0, 0, 0, time.UTC), next)
}

func TestWindowBounds_MonthlyAcrossYear(t *testing.T) {
	start, next, err := WindowBounds(time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC), models.WindowMonthly, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestWindowBounds_UnknownKind(t *testing.T) {
	_, _, err := WindowBounds(time.Now(), models.WindowKind("fortnightly"), time.UTC)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
}
