package sim

import "time"

// Speed bounds for the tick scheduler. One wall tick advances one simulated day.
const (
	MinSpeed = 0.1
	MaxSpeed = 10.0

	// minTickInterval floors the scheduler interval so extreme speeds
	// cannot spin the tick loop.
	minTickInterval = 50 * time.Millisecond
)

// Clock is a monotonic simulated-time source. It owns no timer: the scheduler
// (or a test driver) pumps it with Advance. All access goes through the owning
// session's mutex.
type Clock struct {
	start   time.Time // simulated start date, midnight UTC
	current time.Time
	speed   float64
}

// NewClock starts a simulated clock at the given date.
func NewClock(start time.Time, speed float64) *Clock {
	start = start.UTC().Truncate(24 * time.Hour)
	return &Clock{start: start, current: start, speed: clampSpeed(speed)}
}

func clampSpeed(s float64) float64 {
	if s < MinSpeed {
		return MinSpeed
	}
	if s > MaxSpeed {
		return MaxSpeed
	}
	return s
}

// Advance moves the clock forward by n simulated days.
func (c *Clock) Advance(n int) {
	if n <= 0 {
		return
	}
	c.current = c.current.AddDate(0, 0, n)
}

// Now returns the current simulated instant.
func (c *Clock) Now() time.Time { return c.current }

// Start returns the simulated start date.
func (c *Clock) Start() time.Time { return c.start }

// DayCount returns the integer day index since the session start.
func (c *Clock) DayCount() int {
	return int(c.current.Sub(c.start).Hours() / 24)
}

// Speed returns the configured acceleration factor.
func (c *Clock) Speed() float64 { return c.speed }

// SetSpeed updates the acceleration factor, clamped to [0.1, 10].
func (c *Clock) SetSpeed(s float64) { c.speed = clampSpeed(s) }

// Interval returns the wall-clock period between ticks: max(1000/speed, 50) ms.
func (c *Clock) Interval() time.Duration {
	iv := time.Duration(1000/c.speed) * time.Millisecond
	if iv < minTickInterval {
		iv = minTickInterval
	}
	return iv
}

// Restore rewinds the clock to a snapshot state.
func (c *Clock) Restore(start, current time.Time) {
	c.start = start.UTC()
	c.current = current.UTC()
}
