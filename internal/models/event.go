package models

import "time"

// Event is the subset of an agenda event the reminder scheduler reads.
// LastNotifiedAt is written only through the repository's conditional update.
type Event struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Location             string     `json:"location,omitempty"`
	Description          string     `json:"description,omitempty"`
	ScheduledAt          time.Time  `json:"scheduled_at"`
	Recurrence           string     `json:"recurrence,omitempty"`
	Active               bool       `json:"active"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	LeadTimeSpec         string     `json:"lead_times"`
	Recipients           []string   `json:"recipients"`
	LastNotifiedAt       *time.Time `json:"last_notified_at,omitempty"`
}

// Recurring reports whether the event repeats by RRULE.
func (e Event) Recurring() bool {
	return e.Recurrence != ""
}
