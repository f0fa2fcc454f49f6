package notifier

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cankoe/reminder-scheduler/internal/dedup"
	"github.com/cankoe/reminder-scheduler/internal/dispatcher"
	"github.com/cankoe/reminder-scheduler/internal/due"
	"github.com/cankoe/reminder-scheduler/internal/leadtime"
	"github.com/cankoe/reminder-scheduler/internal/metrics"
	"github.com/cankoe/reminder-scheduler/internal/models"
	"github.com/cankoe/reminder-scheduler/internal/schedules"
)

var (
	ErrRepository     = errors.New("repository error")
	ErrEventNotFound  = errors.New("event not found")
	ErrInvalidAddress = errors.New("invalid address")
)

// Repository is the event store the scheduler reads from and claims in.
type Repository interface {
	// ListCandidates returns active, notification-enabled events scheduled
	// after now, plus recurring events whose rule may still produce one.
	ListCandidates(ctx context.Context, now time.Time) ([]models.Event, error)
	// GetEvent returns ErrEventNotFound for unknown ids.
	GetEvent(ctx context.Context, id string) (models.Event, error)
	// MarkNotified sets last_notified_at to now only if the stored value
	// still equals expected (nil meaning never notified). It reports false
	// when another run claimed the event first.
	MarkNotified(ctx context.Context, id string, expected *time.Time, now time.Time) (bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.Event, timeUntil string) dispatcher.Attempt
}

type Outcome string

const (
	OutcomeNotified       Outcome = "notified"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeSent           Outcome = "sent"
	OutcomeFailed         Outcome = "failed"
)

type EventResult struct {
	EventID    string                `json:"event_id"`
	Outcome    Outcome               `json:"outcome"`
	LeadTime   string                `json:"lead_time,omitempty"`
	Succeeded  int                   `json:"succeeded"`
	Failed     int                   `json:"failed"`
	Deliveries []dispatcher.Delivery `json:"deliveries,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func (r EventResult) Notified() bool {
	return r.Outcome == OutcomeNotified
}

// RunSummary lists every event a dispatch was attempted for during one run.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Attempted int           `json:"attempted"`
	Notified  int           `json:"notified"`
	Results   []EventResult `json:"results"`
}

type Config struct {
	Tolerance time.Duration
	Cooldown  time.Duration
	Workers   int
	Location  *time.Location
}

type Service struct {
	repo       Repository
	dispatcher Dispatcher
	evaluator  due.Evaluator
	guard      dedup.Guard
	workers    int
	loc        *time.Location
	metrics    metrics.Sink
	clock      func() time.Time
}

func New(cfg Config, repo Repository, d Dispatcher) *Service {
	s := &Service{
		repo:       repo,
		dispatcher: d,
		evaluator:  due.New(cfg.Tolerance),
		guard:      dedup.New(cfg.Cooldown),
		workers:    cfg.Workers,
		loc:        cfg.Location,
		metrics:    metrics.NopSink{},
		clock:      time.Now,
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// WithMetrics attaches a metrics sink to the service.
func (s *Service) WithMetrics(sink metrics.Sink) *Service {
	if sink != nil {
		s.metrics = sink
	}
	return s
}

// WithClock replaces the clock used by NotifyNow and TestNotify.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) Now() time.Time {
	return s.clock()
}

// RunOnce evaluates every candidate event at now and sends the reminders
// that are due and not in cooldown. Only a failure to list candidates
// aborts the run; per-event problems are reported in the summary.
//
// Cancellation is honoured between events. An event whose dispatch has
// started always finishes, including its claim write.
func (s *Service) RunOnce(ctx context.Context, now time.Time) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{RunID: uuid.NewString(), StartedAt: now}
	logger := log.With().Str("run_id", summary.RunID).Logger()

	candidates, err := s.repo.ListCandidates(ctx, now)
	if err != nil {
		err = fmt.Errorf("%w: list candidates: %w", ErrRepository, err)
		logger.Error().Err(err).Msg("Run aborted")
		s.metrics.RunCompleted(time.Since(start), 0, 0, err)
		return RunSummary{}, err
	}
	logger.Debug().Int("candidates", len(candidates)).Time("now", now).Msg("Run started")

	results := make([]*EventResult, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.workers)

	for i, ev := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if res, ok := s.processCandidate(context.WithoutCancel(ctx), ev, now, logger); ok {
				results[i] = &res
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res == nil {
			continue
		}
		summary.Results = append(summary.Results, *res)
		summary.Attempted++
		if res.Notified() {
			summary.Notified++
		}
	}

	err = ctx.Err()
	s.metrics.RunCompleted(time.Since(start), summary.Attempted, summary.Notified, err)
	logger.Info().Int("attempted", summary.Attempted).Int("notified", summary.Notified).
		Dur("took", time.Since(start)).Msg("Run completed")
	return summary, err
}

// processCandidate reports false when no dispatch was attempted.
func (s *Service) processCandidate(ctx context.Context, ev models.Event, now time.Time, logger zerolog.Logger) (EventResult, bool) {
	if !ev.Active || !ev.NotificationsEnabled {
		return EventResult{}, false
	}

	ev, err := schedules.Resolve(ev, now, s.loc)
	switch {
	case errors.Is(err, schedules.ErrNoOccurrence):
		logger.Debug().Str("event_id", ev.ID).Msg("Recurrence has ended")
		return EventResult{}, false
	case err != nil:
		logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Skipping event with unusable recurrence")
		return EventResult{}, false
	}
	if !ev.ScheduledAt.After(now) {
		return EventResult{}, false
	}

	lt, ok := s.evaluator.Match(ev.ScheduledAt, leadtime.Parse(ev.LeadTimeSpec), now)
	if !ok {
		return EventResult{}, false
	}

	if s.guard.Suppressed(ev.LastNotifiedAt, now) {
		logger.Debug().Str("event_id", ev.ID).Str("lead_time", lt.String()).
			Dur("cooldown_remaining", s.guard.Remaining(ev.LastNotifiedAt, now)).
			Msg("Due event suppressed by cooldown")
		s.metrics.EventOutcome(string(OutcomeSuppressed))
		return EventResult{}, false
	}

	if len(ev.Recipients) == 0 {
		logger.Debug().Str("event_id", ev.ID).Msg("Due event has no recipients")
		s.metrics.EventOutcome(string(OutcomeSkipped))
		return EventResult{}, false
	}

	res := s.dispatchAndClaim(ctx, ev, now, logger)
	res.LeadTime = lt.String()
	return res, true
}

// NotifyNow sends the reminder for one event without the due-time check.
// The cooldown still applies, and a successful dispatch claims the event.
func (s *Service) NotifyNow(ctx context.Context, eventID string) (EventResult, error) {
	ev, err := s.getEvent(ctx, eventID)
	if err != nil {
		return EventResult{}, err
	}
	now := s.clock()
	logger := log.With().Str("trigger", "send_immediate").Logger()

	if resolved, err := schedules.Resolve(ev, now, s.loc); err == nil {
		ev = resolved
	}

	if s.guard.Suppressed(ev.LastNotifiedAt, now) {
		logger.Info().Str("event_id", ev.ID).Msg("Immediate notification suppressed by cooldown")
		s.metrics.EventOutcome(string(OutcomeSuppressed))
		return EventResult{EventID: ev.ID, Outcome: OutcomeSuppressed}, nil
	}
	if len(ev.Recipients) == 0 {
		s.metrics.EventOutcome(string(OutcomeSkipped))
		return EventResult{EventID: ev.ID, Outcome: OutcomeSkipped}, nil
	}

	return s.dispatchAndClaim(context.WithoutCancel(ctx), ev, now, logger), nil
}

// TestNotify sends the event's reminder to address only. It ignores the
// due-time check and the cooldown and never claims the event.
func (s *Service) TestNotify(ctx context.Context, eventID, address string) (EventResult, error) {
	addr, err := netmail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return EventResult{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	ev, err := s.getEvent(ctx, eventID)
	if err != nil {
		return EventResult{}, err
	}
	now := s.clock()
	if resolved, err := schedules.Resolve(ev, now, s.loc); err == nil {
		ev = resolved
	}
	ev.Recipients = []string{addr.Address}

	attempt := s.dispatcher.Dispatch(context.WithoutCancel(ctx), ev, timeUntil(ev.ScheduledAt, now))
	res := resultFromAttempt(attempt)
	res.Outcome = OutcomeSent
	if res.Succeeded == 0 {
		res.Outcome = OutcomeFailed
	}

	log.Info().Str("event_id", ev.ID).Str("address", addr.Address).Str("outcome", string(res.Outcome)).
		Msg("Test notification sent")
	return res, nil
}

func (s *Service) dispatchAndClaim(ctx context.Context, ev models.Event, now time.Time, logger zerolog.Logger) EventResult {
	attempt := s.dispatcher.Dispatch(ctx, ev, timeUntil(ev.ScheduledAt, now))
	res := resultFromAttempt(attempt)

	claimed, err := s.repo.MarkNotified(ctx, ev.ID, ev.LastNotifiedAt, now)
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Error = fmt.Sprintf("mark notified: %v", err)
		logger.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to record notification")
	case !claimed:
		res.Outcome = OutcomeAlreadyHandled
		logger.Warn().Str("event_id", ev.ID).Msg("Event already claimed by another run")
	default:
		res.Outcome = OutcomeNotified
		logger.Info().Str("event_id", ev.ID).Int("succeeded", res.Succeeded).Int("failed", res.Failed).
			Msg("Event notified")
	}
	s.metrics.EventOutcome(string(res.Outcome))
	return res
}

func (s *Service) getEvent(ctx context.Context, id string) (models.Event, error) {
	ev, err := s.repo.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return models.Event{}, err
		}
		return models.Event{}, fmt.Errorf("%w: get event %s: %w", ErrRepository, id, err)
	}
	return ev, nil
}

func resultFromAttempt(a dispatcher.Attempt) EventResult {
	return EventResult{
		EventID:    a.EventID,
		Succeeded:  a.Succeeded(),
		Failed:     a.Failed(),
		Deliveries: a.Deliveries,
	}
}

func timeUntil(scheduledAt, now time.Time) string {
	return humanize.RelTime(scheduledAt, now, "ago", "from now")
}
