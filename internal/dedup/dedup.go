package dedup

import "time"

// DefaultCooldown is the minimum gap between two firings of the same event.
const DefaultCooldown = 2 * time.Hour

// Guard suppresses firings for an event that was notified recently.
// Cooldown is tracked per event, not per lead time: when two lead times are
// closer together than the cooldown, the later one is skipped.
type Guard struct {
	Cooldown time.Duration
}

func New(cooldown time.Duration) Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return Guard{Cooldown: cooldown}
}

// Suppressed reports whether lastNotifiedAt is still inside the cooldown.
func (g Guard) Suppressed(lastNotifiedAt *time.Time, now time.Time) bool {
	return g.Remaining(lastNotifiedAt, now) > 0
}

// Remaining returns how much cooldown is left, or zero when none applies.
func (g Guard) Remaining(lastNotifiedAt *time.Time, now time.Time) time.Duration {
	if lastNotifiedAt == nil {
		return 0
	}
	elapsed := now.Sub(*lastNotifiedAt)
	if elapsed >= g.Cooldown {
		return 0
	}
	return g.Cooldown - elapsed
}
