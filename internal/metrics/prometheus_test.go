package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusSink_RunCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.RunCompleted(time.Second, 3, 2, nil)
	s.RunCompleted(time.Second, 0, 0, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(s.runsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runErrorsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.attemptedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.notifiedTotal))
}

func TestPrometheusSink_Outcomes(t *testing.T) {
	s := NewPrometheusSink(prometheus.NewRegistry())

	s.EventOutcome("sent")
	s.EventOutcome("sent")
	s.EventOutcome("already_handled")
	s.DeliveryCompleted(true, 10*time.Millisecond)
	s.DeliveryCompleted(false, 10*time.Millisecond)
	s.DeliveryCompleted(false, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.outcomesTotal.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.outcomesTotal.WithLabelValues("already_handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.deliveriesTotal.WithLabelValues(DeliverySuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.deliveriesTotal.WithLabelValues(DeliveryFailed)))
}

func TestPrometheusSink_DoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)

	assert.NotPanics(t, func() {
		s := NewPrometheusSink(reg)
		s.EventOutcome("sent")
	})
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NotPanics(t, func() {
		s.RunCompleted(time.Second, 1, 1, nil)
		s.EventOutcome("sent")
		s.DeliveryCompleted(true, time.Second)
	})
}
