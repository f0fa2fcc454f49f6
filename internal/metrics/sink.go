package metrics

import "time"

// Sink records scheduler metrics.
// Implementations must not block or propagate errors.
type Sink interface {
	RunCompleted(duration time.Duration, attempted, notified int, err error)
	EventOutcome(outcome string)
	DeliveryCompleted(ok bool, duration time.Duration)
}

// Delivery result labels.
const (
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

type NopSink struct{}

func (NopSink) RunCompleted(time.Duration, int, int, error) {}
func (NopSink) EventOutcome(string)                         {}
func (NopSink) DeliveryCompleted(bool, time.Duration)       {}
