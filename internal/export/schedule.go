package export

import (
	"errors"
	"time"
)

// ErrClockNotSet reports that the wall clock has not synchronized yet;
// scheduling against it would target a bogus day.
var ErrClockNotSet = errors.New("export: wall clock not set")

const (
	// clockRetry is how long to wait before re-checking an unset clock.
	clockRetry = time.Minute

	// minWait floors the re-arm interval so convergence never turns
	// into a per-cycle check; the boundary is hit at most this late.
	minWait = time.Second
)

// Scheduler fires once per day at a fixed hour and minute. Poll is
// cheap on purpose: it re-arms itself at roughly half the remaining
// time, so a handful of time comparisons per day replace per-cycle
// calendar math.
type Scheduler struct {
	hour   int
	minute int

	nextCheck time.Time // no work before this instant
	target    time.Time // boundary being converged on
}

// NewScheduler creates a scheduler for a daily hh:mm boundary.
func NewScheduler(hour, minute int) *Scheduler {
	return &Scheduler{hour: hour, minute: minute}
}

// Poll reports whether the boundary has been reached. It fires exactly
// once per boundary and then targets the next day. Before the wall
// clock is set it returns ErrClockNotSet and retries on its own
// cadence.
func (s *Scheduler) Poll(now time.Time) (bool, error) {
	if now.Before(s.nextCheck) {
		return false, nil
	}

	// A year before 2000 means the clock still runs on its epoch
	// default; any target computed from it would be meaningless.
	if now.Year() < 2000 {
		s.nextCheck = now.Add(clockRetry)
		return false, ErrClockNotSet
	}

	if s.target.IsZero() {
		s.target = s.nextBoundary(now)
	}

	if now.Before(s.target) {
		wait := s.target.Sub(now) / 2
		if wait < minWait {
			wait = minWait
		}
		s.nextCheck = now.Add(wait)
		return false, nil
	}

	s.target = s.nextBoundary(now)
	s.nextCheck = now
	return true, nil
}

// Target returns the boundary currently converged on. Zero until the
// first Poll with a valid clock.
func (s *Scheduler) Target() time.Time {
	return s.target
}

// nextBoundary returns the first hh:mm after now.
func (s *Scheduler) nextBoundary(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
