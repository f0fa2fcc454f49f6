package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/cankoe/reminder-scheduler/internal/dispatcher"
	"github.com/cankoe/reminder-scheduler/internal/models"
)

// fakeRepo keeps events in memory and enforces the conditional claim.
type fakeRepo struct {
	mu        sync.Mutex
	events    map[string]models.Event
	order     []string
	listErr   error
	getErr    error
	markErr   map[string]error
	claims    int
	conflicts int
}

func newFakeRepo(events ...models.Event) *fakeRepo {
	r := &fakeRepo{events: map[string]models.Event{}, markErr: map[string]error{}}
	for _, ev := range events {
		r.events[ev.ID] = ev
		r.order = append(r.order, ev.ID)
	}
	return r
}

func (r *fakeRepo) ListCandidates(ctx context.Context, now time.Time) ([]models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]models.Event, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshot(r.events[id]))
	}
	return out, nil
}

func (r *fakeRepo) GetEvent(ctx context.Context, id string) (models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return models.Event{}, r.getErr
	}
	ev, ok := r.events[id]
	if !ok {
		return models.Event{}, ErrEventNotFound
	}
	return snapshot(ev), nil
}

func (r *fakeRepo) MarkNotified(ctx context.Context, id string, expected *time.Time, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.markErr[id]; err != nil {
		return false, err
	}
	ev, ok := r.events[id]
	if !ok {
		return false, nil
	}
	if !sameInstant(ev.LastNotifiedAt, expected) {
		r.conflicts++
		return false, nil
	}
	at := now
	ev.LastNotifiedAt = &at
	r.events[id] = ev
	r.claims++
	return true, nil
}

func (r *fakeRepo) lastNotified(id string) *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id].LastNotifiedAt
}

func (r *fakeRepo) claimCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claims
}

func snapshot(ev models.Event) models.Event {
	if ev.LastNotifiedAt != nil {
		at := *ev.LastNotifiedAt
		ev.LastNotifiedAt = &at
	}
	ev.Recipients = append([]string(nil), ev.Recipients...)
	return ev
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// fakeDispatcher records calls and succeeds for every recipient.
// When barrier is set, each call waits until barrier is closed.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []models.Event
	barrier chan struct{}
	entered chan struct{}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ev models.Event, timeUntil string) dispatcher.Attempt {
	d.mu.Lock()
	d.calls = append(d.calls, ev)
	d.mu.Unlock()

	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.barrier != nil {
		<-d.barrier
	}

	attempt := dispatcher.Attempt{EventID: ev.ID}
	for _, to := range ev.Recipients {
		attempt.Deliveries = append(attempt.Deliveries, dispatcher.Delivery{Recipient: to, OK: true})
	}
	return attempt
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDispatcher) callsFor(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.calls {
		if ev.ID == id {
			n++
		}
	}
	return n
}

// mockTransport fails for configured addresses.
type mockTransport struct {
	mu   sync.Mutex
	sent []string
	fail map[string]error
}

func (t *mockTransport) Send(ctx context.Context, msg dispatcher.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[msg.To]; err != nil {
		return err
	}
	t.sent = append(t.sent, msg.To)
	return nil
}

func (t *mockTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}
