package frequency

import (
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
)

// WindowBounds returns the window containing anchor and the instant the next one starts.
// Windows are anchored to the stored reset timestamp, truncated in loc:
// hourly to the top of the hour, daily to midnight, weekly to the most recent
// Sunday midnight and monthly to the first of the month.
func WindowBounds(anchor time.Time, kind models.WindowKind, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t := anchor.In(loc)
	y, m, d := t.Date()

	var start, next time.Time
	switch kind {
	case models.WindowHourly:
		start = time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
		next = start.Add(time.Hour)
	case models.WindowDaily:
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		next = start.AddDate(0, 0, 1)
	case models.WindowWeekly:
		start = time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, loc)
		next = start.AddDate(0, 0, 7)
	case models.WindowMonthly:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		next = start.AddDate(0, 1, 0)
	default:
		return time.Time{}, time.Time{}, apperrors.Configuration("frequency.WindowBounds", "unsupported frequency window %q", kind)
	}
	return start, next, nil
}
