package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cankoe/reminder-scheduler/internal/metrics"
	"github.com/cankoe/reminder-scheduler/internal/models"
)

const defaultSendTimeout = 10 * time.Second

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport delivers a single message to a single address.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

type Delivery struct {
	Recipient string `json:"recipient"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Attempt is the outcome of one Dispatch call.
type Attempt struct {
	EventID    string     `json:"event_id"`
	Deliveries []Delivery `json:"deliveries"`
}

func (a Attempt) Succeeded() int {
	n := 0
	for _, d := range a.Deliveries {
		if d.OK {
			n++
		}
	}
	return n
}

func (a Attempt) Failed() int {
	return len(a.Deliveries) - a.Succeeded()
}

type Config struct {
	Location      *time.Location
	SendTimeout   time.Duration
	RatePerSecond float64
	SubjectPrefix string
}

type Dispatcher struct {
	transport     Transport
	loc           *time.Location
	sendTimeout   time.Duration
	subjectPrefix string
	limiter       *rate.Limiter // nil = unlimited
	metrics       metrics.Sink
}

func New(cfg Config, transport Transport) *Dispatcher {
	d := &Dispatcher{
		transport:     transport,
		loc:           cfg.Location,
		sendTimeout:   cfg.SendTimeout,
		subjectPrefix: cfg.SubjectPrefix,
		metrics:       metrics.NopSink{},
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = defaultSendTimeout
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink metrics.Sink) *Dispatcher {
	if sink != nil {
		d.metrics = sink
	}
	return d
}

// Dispatch renders the reminder for ev and sends it to every recipient.
// A failing recipient never stops delivery to the others. Dispatch does not
// retry and never touches the repository.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event, timeUntil string) Attempt {
	attempt := Attempt{EventID: ev.ID, Deliveries: make([]Delivery, len(ev.Recipients))}
	if len(ev.Recipients) == 0 {
		return attempt
	}

	msg, err := Render(ev, timeUntil, d.loc, d.subjectPrefix)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to render reminder")
		for i, to := range ev.Recipients {
			attempt.Deliveries[i] = Delivery{Recipient: to, Error: err.Error()}
		}
		return attempt
	}

	var wg sync.WaitGroup
	for i, to := range ev.Recipients {
		wg.Add(1)
		go func(i int, to string) {
			defer wg.Done()
			m := msg
			m.To = to
			attempt.Deliveries[i] = d.send(ctx, ev.ID, m)
		}(i, to)
	}
	wg.Wait()

	log.Info().Str("event_id", ev.ID).
		Int("succeeded", attempt.Succeeded()).
		Int("failed", attempt.Failed()).
		Msg("Reminder dispatched")
	return attempt
}

func (d *Dispatcher) send(ctx context.Context, eventID string, msg Message) Delivery {
	out := Delivery{Recipient: msg.To}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			out.Error = fmt.Sprintf("rate limit wait: %v", err)
			d.metrics.DeliveryCompleted(false, 0)
			return out
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.transport.Send(callCtx, msg)
	}()

	var err error
	select {
	case err = <-errCh:
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("send timed out after %s: %w", d.sendTimeout, err)
		}
	case <-callCtx.Done():
		err = fmt.Errorf("send timed out after %s: %w", d.sendTimeout, callCtx.Err())
	}
	d.metrics.DeliveryCompleted(err == nil, time.Since(start))

	if err != nil {
		log.Warn().Err(err).Str("event_id", eventID).Str("recipient", msg.To).Msg("Reminder delivery failed")
		out.Error = err.Error()
		return out
	}
	out.OK = true
	return out
}
