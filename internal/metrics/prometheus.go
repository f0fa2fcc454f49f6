package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	runsTotal       prometheus.Counter
	runErrorsTotal  prometheus.Counter
	runDuration     prometheus.Histogram
	attemptedTotal  prometheus.Counter
	notifiedTotal   prometheus.Counter
	outcomesTotal   *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	sendDuration    prometheus.Histogram
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_runs_total",
			Help: "Total number of scheduler runs.",
		}),
		runErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_run_errors_total",
			Help: "Total number of scheduler runs aborted by an error.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminders_run_duration_seconds",
			Help:    "Duration of each scheduler run in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		attemptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_events_attempted_total",
			Help: "Total number of events a reminder dispatch was attempted for.",
		}),
		notifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_events_notified_total",
			Help: "Total number of events claimed as notified.",
		}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_event_outcomes_total",
			Help: "Per-event outcomes of reminder processing.",
		}, []string{"outcome"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_deliveries_total",
			Help: "Per-recipient mail deliveries.",
		}, []string{"result"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reminders_send_duration_seconds",
			Help:    "Mail transport call latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"reminders_runs_total":             s.runsTotal,
		"reminders_run_errors_total":       s.runErrorsTotal,
		"reminders_run_duration_seconds":   s.runDuration,
		"reminders_events_attempted_total": s.attemptedTotal,
		"reminders_events_notified_total":  s.notifiedTotal,
		"reminders_event_outcomes_total":   s.outcomesTotal,
		"reminders_deliveries_total":       s.deliveriesTotal,
		"reminders_send_duration_seconds":  s.sendDuration,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	return s
}

func (s *PrometheusSink) RunCompleted(duration time.Duration, attempted, notified int, err error) {
	s.runsTotal.Inc()
	s.runDuration.Observe(duration.Seconds())
	s.attemptedTotal.Add(float64(attempted))
	s.notifiedTotal.Add(float64(notified))
	if err != nil {
		s.runErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) EventOutcome(outcome string) {
	s.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) DeliveryCompleted(ok bool, duration time.Duration) {
	label := DeliveryFailed
	if ok {
		label = DeliverySuccess
	}
	s.deliveriesTotal.WithLabelValues(label).Inc()
	s.sendDuration.Observe(duration.Seconds())
}
