package due

import (
	"time"

	"github.com/cankoe/reminder-scheduler/internal/leadtime"
)

// DefaultTolerance is the symmetric window around a lead time's target instant.
const DefaultTolerance = time.Minute

type Evaluator struct {
	Tolerance time.Duration
}

func New(tolerance time.Duration) Evaluator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return Evaluator{Tolerance: tolerance}
}

// IsDue reports whether now is within the tolerance window of any lead time.
func (e Evaluator) IsDue(scheduledAt time.Time, leads []leadtime.LeadTime, now time.Time) bool {
	_, ok := e.Match(scheduledAt, leads, now)
	return ok
}

// Match returns the first lead time, in configured order, whose target
// instant (scheduledAt - lead) lies within the tolerance of now. Scanning
// stops at the first match so an event fires at most once per evaluation.
func (e Evaluator) Match(scheduledAt time.Time, leads []leadtime.LeadTime, now time.Time) (leadtime.LeadTime, bool) {
	for _, lt := range leads {
		target := scheduledAt.Add(-lt.Duration())
		if abs(now.Sub(target)) <= e.Tolerance {
			return lt, true
		}
	}
	return leadtime.LeadTime{}, false
}

// Targets lists the instant each lead time fires at, in configured order.
func Targets(scheduledAt time.Time, leads []leadtime.LeadTime) []time.Time {
	out := make([]time.Time, 0, len(leads))
	for _, lt := range leads {
		out = append(out, scheduledAt.Add(-lt.Duration()))
	}
	return out
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
