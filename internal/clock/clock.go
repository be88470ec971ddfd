package clock

import (
	"fmt"
	"strings"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads system time in the configured business location.
// Params: Location (nil means the process-local zone).
// Returns: current time expressed in Location.
type RealClock struct {
	Location *time.Location
}

// Now returns current time in the clock location.
// Params: none.
// Returns: current timestamp.
func (c RealClock) Now() time.Time {
	now := time.Now()
	if c.Location != nil {
		return now.In(c.Location)
	}
	return now
}

// Func adapts a plain function to Clock.
type Func func() time.Time

// Now calls the wrapped function.
func (f Func) Now() time.Time {
	return f()
}

// ForZone builds a real clock for an IANA zone name.
// Params: zone such as "Europe/Berlin"; empty or "Local" keeps process zone.
// Returns: clock or zone lookup error.
func ForZone(zone string) (RealClock, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" || zone == "Local" {
		return RealClock{Location: time.Local}, nil
	}
	location, err := time.LoadLocation(zone)
	if err != nil {
		return RealClock{}, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return RealClock{Location: location}, nil
}
