package notifier

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cankoe/reminder-scheduler/internal/dispatcher"
	"github.com/cankoe/reminder-scheduler/internal/models"
)

var baseTime = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func dueEvent(id string) models.Event {
	return models.Event{
		ID:                   id,
		Title:                "Committee meeting",
		ScheduledAt:          baseTime.Add(24 * time.Hour),
		Active:               true,
		NotificationsEnabled: true,
		LeadTimeSpec:         "24_hours",
		Recipients:           []string{"clerk@example.org"},
	}
}

func newService(repo Repository, d Dispatcher) *Service {
	return New(Config{Tolerance: time.Minute, Cooldown: 2 * time.Hour, Workers: 4}, repo, d).
		WithClock(func() time.Time { return baseTime })
}

func TestRunOnce_FiresInsideToleranceWindow(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"at target", baseTime, 1},
		{"24h02m before", baseTime.Add(-2 * time.Minute), 0},
		{"23h58m before", baseTime.Add(2 * time.Minute), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo(dueEvent("e1"))
			d := &fakeDispatcher{}

			summary, err := newService(repo, d).RunOnce(context.Background(), tt.now)
			require.NoError(t, err)

			assert.Equal(t, tt.want, d.callCount())
			assert.Equal(t, tt.want, summary.Attempted)
			assert.Equal(t, tt.want, summary.Notified)
			assert.Equal(t, tt.want, repo.claimCount())
		})
	}
}

func TestRunOnce_NotificationsDisabledNeverDispatched(t *testing.T) {
	ev := dueEvent("e1")
	ev.NotificationsEnabled = false
	inactive := dueEvent("e2")
	inactive.Active = false

	repo := newFakeRepo(ev, inactive)
	d := &fakeDispatcher{}
	svc := newService(repo, d)

	for _, offset := range []time.Duration{-time.Hour, -time.Minute, 0, time.Minute, time.Hour} {
		_, err := svc.RunOnce(context.Background(), baseTime.Add(offset))
		require.NoError(t, err)
	}

	assert.Zero(t, d.callCount())
	assert.Nil(t, repo.lastNotified("e1"))
}

func TestRunOnce_CooldownSuppressesSecondLeadTime(t *testing.T) {
	ev := dueEvent("e1")
	ev.ScheduledAt = baseTime.Add(4 * time.Hour)
	ev.LeadTimeSpec = "4_hours, 3_hours, 119_minutes"

	repo := newFakeRepo(ev)
	d := &fakeDispatcher{}
	svc := newService(repo, d)
	ctx := context.Background()

	summary, err := svc.RunOnce(ctx, baseTime)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Notified)
	assert.Equal(t, "4_hours", summary.Results[0].LeadTime)

	// 3_hours lead is due at T+1h but the event is still cooling down.
	summary, err = svc.RunOnce(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
	assert.Equal(t, 1, d.callCount())

	// 119_minutes lead is due at T+2h1m, after the cooldown.
	summary, err = svc.RunOnce(ctx, baseTime.Add(2*time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Notified)
	assert.Equal(t, 2, d.callCount())
	require.NotNil(t, repo.lastNotified("e1"))
	assert.Equal(t, baseTime.Add(2*time.Hour+time.Minute), *repo.lastNotified("e1"))
}

func TestRunOnce_SimultaneousLeadTimesFireOnce(t *testing.T) {
	ev := dueEvent("e1")
	ev.ScheduledAt = baseTime.Add(time.Hour)
	ev.LeadTimeSpec = "1_hours, 60_minutes"

	repo := newFakeRepo(ev)
	d := &fakeDispatcher{}

	summary, err := newService(repo, d).RunOnce(context.Background(), baseTime)
	require.NoError(t, err)

	assert.Equal(t, 1, d.callCount())
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "1_hours", summary.Results[0].LeadTime)
}

func TestRunOnce_PartialDeliveryFailureStillClaims(t *testing.T) {
	ev := dueEvent("e1")
	ev.Recipients = []string{"a@example.org", "b@example.org", "c@example.org"}

	repo := newFakeRepo(ev)
	transport := &mockTransport{fail: map[string]error{"b@example.org": errors.New("550 rejected")}}
	d := dispatcher.New(dispatcher.Config{}, transport)

	summary, err := newService(repo, d).RunOnce(context.Background(), baseTime)
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	res := summary.Results[0]
	assert.Equal(t, OutcomeNotified, res.Outcome)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, repo.claimCount())
	assert.Equal(t, 2, transport.sentCount())
}

func TestRunOnce_EmptyConfigurationIsNoop(t *testing.T) {
	noRecipients := dueEvent("e1")
	noRecipients.Recipients = nil
	noLeads := dueEvent("e2")
	noLeads.LeadTimeSpec = ""
	badLeads := dueEvent("e3")
	badLeads.LeadTimeSpec = "soon, later"

	repo := newFakeRepo(noRecipients, noLeads, badLeads)
	d := &fakeDispatcher{}

	summary, err := newService(repo, d).RunOnce(context.Background(), baseTime)
	require.NoError(t, err)

	assert.Zero(t, summary.Attempted)
	assert.Zero(t, d.callCount())
	assert.Zero(t, repo.claimCount())
}

func TestRunOnce_PastEventsAreNotCandidates(t *testing.T) {
	ev := dueEvent("e1")
	ev.ScheduledAt = baseTime.Add(-30 * time.Second)
	ev.LeadTimeSpec = "1_minutes"

	d := &fakeDispatcher{}
	_, err := newService(newFakeRepo(ev), d).RunOnce(context.Background(), baseTime)
	require.NoError(t, err)

	assert.Zero(t, d.callCount())
}

func TestRunOnce_RecurringEventUsesNextOccurrence(t *testing.T) {
	ev := dueEvent("e1")
	ev.ScheduledAt = baseTime.Add(-6 * 24 * time.Hour) // a week before the next one
	ev.Recurrence = "FREQ=WEEKLY"

	d := &fakeDispatcher{}
	summary, err := newService(newFakeRepo(ev), d).RunOnce(context.Background(), baseTime)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Notified)
	require.Equal(t, 1, d.callCount())
	assert.True(t, d.calls[0].ScheduledAt.Equal(baseTime.Add(24*time.Hour)))
}

func TestRunOnce_EndedRecurrenceIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	ended := dueEvent("e1")
	ended.ScheduledAt = baseTime.Add(-48 * time.Hour)
	ended.Recurrence = "FREQ=DAILY;COUNT=1"
	broken := dueEvent("e2")
	broken.Recurrence = "FREQ=SOMETIMES"

	d := &fakeDispatcher{}
	summary, err := newService(newFakeRepo(ended, broken), d).RunOnce(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
	assert.Zero(t, d.callCount())

	out := buf.String()
	assert.Contains(t, out, "Recurrence has ended")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"level":"warn"`)), "only the unparsable rule warns")
}

func TestRunOnce_RepositoryErrorAbortsRun(t *testing.T) {
	repo := newFakeRepo(dueEvent("e1"))
	repo.listErr = errors.New("connection reset")
	d := &fakeDispatcher{}

	summary, err := newService(repo, d).RunOnce(context.Background(), baseTime)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRepository)
	assert.Empty(t, summary.Results)
	assert.Zero(t, d.callCount())
}

func TestRunOnce_MarkFailureIsRecordedPerEvent(t *testing.T) {
	repo := newFakeRepo(dueEvent("e1"), dueEvent("e2"))
	repo.markErr["e1"] = errors.New("write conflict")
	d := &fakeDispatcher{}

	summary, err := newService(repo, d).RunOnce(context.Background(), baseTime)
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	assert.Equal(t, OutcomeFailed, summary.Results[0].Outcome)
	assert.Contains(t, summary.Results[0].Error, "write conflict")
	assert.Equal(t, OutcomeNotified, summary.Results[1].Outcome)
	assert.Equal(t, 1, summary.Notified)
}

func TestRunOnce_ConcurrentRunsClaimOnce(t *testing.T) {
	repo := newFakeRepo(dueEvent("e1"))
	d := &fakeDispatcher{
		barrier: make(chan struct{}),
		entered: make(chan struct{}, 2),
	}
	svc := newService(repo, d)

	var wg sync.WaitGroup
	summaries := make([]RunSummary, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = svc.RunOnce(context.Background(), baseTime)
		}(i)
	}

	// Both runs have read the event and started dispatching before either claims.
	for i := 0; i < 2; i++ {
		select {
		case <-d.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch was not reached by both runs")
		}
	}
	close(d.barrier)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 2, d.callsFor("e1"))
	assert.Equal(t, 1, repo.claimCount())

	outcomes := []Outcome{summaries[0].Results[0].Outcome, summaries[1].Results[0].Outcome}
	assert.ElementsMatch(t, []Outcome{OutcomeNotified, OutcomeAlreadyHandled}, outcomes)
	assert.Equal(t, 1, summaries[0].Notified+summaries[1].Notified)
}

func TestRunOnce_CancelledBeforeStart(t *testing.T) {
	d := &fakeDispatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newService(newFakeRepo(dueEvent("e1")), d).RunOnce(ctx, baseTime)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Attempted)
	assert.Zero(t, d.callCount())
}

func TestRunOnce_CancelLetsStartedEventFinish(t *testing.T) {
	repo := newFakeRepo(dueEvent("e1"), dueEvent("e2"))
	d := &fakeDispatcher{
		barrier: make(chan struct{}),
		entered: make(chan struct{}, 2),
	}
	svc := New(Config{Tolerance: time.Minute, Cooldown: 2 * time.Hour, Workers: 1}, repo, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var summary RunSummary
	var err error
	go func() {
		defer close(done)
		summary, err = svc.RunOnce(ctx, baseTime)
	}()

	select {
	case <-d.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first dispatch never started")
	}
	cancel()
	close(d.barrier)
	<-done

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, d.callCount())
	assert.Equal(t, 1, repo.claimCount())
	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeNotified, summary.Results[0].Outcome)
}

func TestNotifyNow_BypassesDueCheck(t *testing.T) {
	ev := dueEvent("e1")
	ev.ScheduledAt = baseTime.Add(72 * time.Hour)

	repo := newFakeRepo(ev)
	d := &fakeDispatcher{}

	res, err := newService(repo, d).NotifyNow(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeNotified, res.Outcome)
	assert.Equal(t, 1, d.callCount())
	require.NotNil(t, repo.lastNotified("e1"))
	assert.Equal(t, baseTime, *repo.lastNotified("e1"))
}

func TestNotifyNow_CooldownStillApplies(t *testing.T) {
	ev := dueEvent("e1")
	last := baseTime.Add(-30 * time.Minute)
	ev.LastNotifiedAt = &last

	d := &fakeDispatcher{}
	res, err := newService(newFakeRepo(ev), d).NotifyNow(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuppressed, res.Outcome)
	assert.Zero(t, d.callCount())
}

func TestNotifyNow_UnknownEvent(t *testing.T) {
	_, err := newService(newFakeRepo(), &fakeDispatcher{}).NotifyNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestNotifyNow_RepositoryError(t *testing.T) {
	repo := newFakeRepo(dueEvent("e1"))
	repo.getErr = errors.New("timeout")

	_, err := newService(repo, &fakeDispatcher{}).NotifyNow(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrRepository)
}

func TestTestNotify_NeverConsumesCooldown(t *testing.T) {
	ev := dueEvent("e1")
	last := baseTime.Add(-10 * time.Minute)
	ev.LastNotifiedAt = &last

	repo := newFakeRepo(ev)
	d := &fakeDispatcher{}
	svc := newService(repo, d)

	for i := 0; i < 2; i++ {
		res, err := svc.TestNotify(context.Background(), "e1", "tester@example.org")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, res.Outcome)
	}

	assert.Equal(t, 2, d.callCount())
	for _, call := range d.calls {
		assert.Equal(t, []string{"tester@example.org"}, call.Recipients)
	}
	assert.Zero(t, repo.claimCount())
	assert.Equal(t, last, *repo.lastNotified("e1"))
}

func TestTestNotify_InvalidAddress(t *testing.T) {
	d := &fakeDispatcher{}
	_, err := newService(newFakeRepo(dueEvent("e1")), d).TestNotify(context.Background(), "e1", "not-an-address")

	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Zero(t, d.callCount())
}

func TestTestNotify_FailedDelivery(t *testing.T) {
	transport := &mockTransport{fail: map[string]error{"tester@example.org": errors.New("refused")}}
	d := dispatcher.New(dispatcher.Config{}, transport)

	res, err := newService(newFakeRepo(dueEvent("e1")), d).TestNotify(context.Background(), "e1", "tester@example.org")
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.Failed)
}

func TestTimeUntil(t *testing.T) {
	assert.Equal(t, "1 day from now", timeUntil(baseTime.Add(24*time.Hour), baseTime))
	assert.Equal(t, "30 minutes from now", timeUntil(baseTime.Add(30*time.Minute), baseTime))
}

func TestStatus(t *testing.T) {
	ev := dueEvent("e1")
	ev.LeadTimeSpec = "48_hours, 24_hours, 30_minutes"
	last := baseTime.Add(-90 * time.Minute)
	ev.LastNotifiedAt = &last

	d := &fakeDispatcher{}
	st, err := newService(newFakeRepo(ev), d).Status(context.Background(), "e1")
	require.NoError(t, err)

	require.Len(t, st.LeadTimes, 3)
	assert.Equal(t, "48_hours", st.LeadTimes[0].LeadTime)
	assert.True(t, st.LeadTimes[0].Passed)
	assert.False(t, st.LeadTimes[0].Due)
	assert.True(t, st.LeadTimes[1].Due)
	assert.True(t, st.LeadTimes[1].TargetAt.Equal(baseTime))
	assert.False(t, st.LeadTimes[2].Passed)
	assert.Equal(t, "30m0s", st.CooldownRemaining)
	assert.Equal(t, 1, st.Recipients)
	assert.Zero(t, d.callCount())
}

func TestStatus_UnknownEvent(t *testing.T) {
	_, err := newService(newFakeRepo(), &fakeDispatcher{}).Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEventNotFound)
}
