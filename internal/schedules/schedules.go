package schedules

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/cankoe/reminder-scheduler/internal/models"
)

var ErrNoOccurrence = errors.New("recurrence has no further occurrences")

// NextOccurrence returns the first occurrence of rule strictly after `after`.
// The rule is anchored at dtstart expressed in loc, so occurrences keep their
// local wall-clock time across daylight-saving changes.
func NextOccurrence(rule string, dtstart, after time.Time, loc *time.Location) (time.Time, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid recurrence %q: %w", rule, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	r.DTStart(dtstart.In(loc))

	next := r.After(after, false)
	if next.IsZero() {
		return time.Time{}, ErrNoOccurrence
	}
	return next.UTC(), nil
}

// Resolve returns ev with ScheduledAt set to the occurrence a run at now
// should consider. Non-recurring events are returned unchanged.
func Resolve(ev models.Event, now time.Time, loc *time.Location) (models.Event, error) {
	if !ev.Recurring() {
		return ev, nil
	}
	next, err := NextOccurrence(ev.Recurrence, ev.ScheduledAt, now, loc)
	if err != nil {
		return ev, err
	}
	ev.ScheduledAt = next
	return ev, nil
}
