package clock

import "time"

// Clock abstracts time for the throttled pagination loop so tests can
// drive it deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time { return time.Now().UTC() }

// Sleep blocks for at least the supplied duration.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }
