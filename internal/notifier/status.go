package notifier

import (
	"context"
	"time"

	"github.com/cankoe/reminder-scheduler/internal/due"
	"github.com/cankoe/reminder-scheduler/internal/leadtime"
	"github.com/cankoe/reminder-scheduler/internal/schedules"
)

type LeadTimeStatus struct {
	LeadTime string    `json:"lead_time"`
	TargetAt time.Time `json:"target_at"`
	Due      bool      `json:"due"`
	Passed   bool      `json:"passed"`
}

// Status is a read-only view of how the scheduler currently sees an event.
type Status struct {
	EventID              string           `json:"event_id"`
	Active               bool             `json:"active"`
	NotificationsEnabled bool             `json:"notifications_enabled"`
	ScheduledAt          time.Time        `json:"scheduled_at"`
	Recurrence           string           `json:"recurrence,omitempty"`
	RecurrenceError      string           `json:"recurrence_error,omitempty"`
	LeadTimes            []LeadTimeStatus `json:"lead_times"`
	Recipients           int              `json:"recipients"`
	LastNotifiedAt       *time.Time       `json:"last_notified_at"`
	CooldownRemaining    string           `json:"cooldown_remaining"`
	CheckedAt            time.Time        `json:"checked_at"`
}

// Status reports the lead-time targets and cooldown state of one event
// without sending anything.
func (s *Service) Status(ctx context.Context, eventID string) (Status, error) {
	ev, err := s.getEvent(ctx, eventID)
	if err != nil {
		return Status{}, err
	}
	now := s.clock()

	st := Status{
		EventID:              ev.ID,
		Active:               ev.Active,
		NotificationsEnabled: ev.NotificationsEnabled,
		Recurrence:           ev.Recurrence,
		Recipients:           len(ev.Recipients),
		LastNotifiedAt:       ev.LastNotifiedAt,
		CheckedAt:            now,
	}

	resolved, err := schedules.Resolve(ev, now, s.loc)
	if err != nil {
		st.RecurrenceError = err.Error()
	} else {
		ev = resolved
	}
	st.ScheduledAt = ev.ScheduledAt

	leads := leadtime.Parse(ev.LeadTimeSpec)
	st.LeadTimes = make([]LeadTimeStatus, 0, len(leads))
	for i, target := range due.Targets(ev.ScheduledAt, leads) {
		st.LeadTimes = append(st.LeadTimes, LeadTimeStatus{
			LeadTime: leads[i].String(),
			TargetAt: target,
			Due:      s.evaluator.IsDue(ev.ScheduledAt, leads[i:i+1], now),
			Passed:   target.Before(now.Add(-s.evaluator.Tolerance)),
		})
	}

	st.CooldownRemaining = s.guard.Remaining(ev.LastNotifiedAt, now).String()
	return st, nil
}
