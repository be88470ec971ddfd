package engine

import (
	"time"

	"kpipolicy/internal/domain"
)

// WithinWindow decides whether now falls inside a weekly window.
// Params: optional window and caller-local now.
// Returns: true for nil window, or when weekday is listed and time-of-day
// lies within [start, end] inclusive. Malformed bounds never match.
func WithinWindow(window *domain.Window, now time.Time) bool {
	if window == nil {
		return true
	}

	weekday := int(now.Weekday())
	dayListed := false
	for _, day := range window.Days {
		if day == weekday {
			dayListed = true
			break
		}
	}
	if !dayListed {
		return false
	}

	start, ok := domain.ParseClockMinutes(window.Start)
	if !ok {
		return false
	}
	end, ok := domain.ParseClockMinutes(window.End)
	if !ok {
		return false
	}
	current := now.Hour()*60 + now.Minute()
	return current >= start && current <= end
}
