package retrysched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/gateway"
	"github.com/evicertia/pn-ec/internal/model"
	"github.com/evicertia/pn-ec/internal/queue"
	"github.com/evicertia/pn-ec/internal/repository"
	"github.com/evicertia/pn-ec/internal/retrypolicy"
	"github.com/evicertia/pn-ec/internal/tracker"
)

type fakeSender struct {
	err   error
	calls int
}

func (s *fakeSender) Send(_ context.Context, req *model.Request, _ []attachment.Resolved) (*model.GeneratedMessage, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &model.GeneratedMessage{ID: "gen-" + req.RequestID, System: "test"}, nil
}

func (s *fakeSender) BaseSize(*model.Request) int64 { return 0 }

type fakeRepo struct {
	stored     *repository.StoredRequest
	getErr     error
	retryState *model.RetryState
	generated  *model.GeneratedMessage
}

func (r *fakeRepo) InsertRequest(context.Context, *model.Request) error { return nil }

func (r *fakeRepo) GetRequest(context.Context, string, string) (*repository.StoredRequest, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.stored, nil
}

func (r *fakeRepo) SetGeneratedMessageID(_ context.Context, _, _ string, gm *model.GeneratedMessage) error {
	r.generated = gm
	return nil
}

func (r *fakeRepo) UpdateRetryState(_ context.Context, _, _ string, rs *model.RetryState) error {
	r.retryState = rs
	return nil
}

func (r *fakeRepo) UpdateStatus(context.Context, string, string, model.Status) error { return nil }

type fakeEnqueuer struct {
	queues   []string
	payloads []any
	err      error
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, queueName string, payload any) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.queues = append(e.queues, queueName)
	e.payloads = append(e.payloads, payload)
	return "msg-1", nil
}

type fakeStore struct{}

func (fakeStore) Stat(_ context.Context, key, _ string) (*attachment.FileInfo, error) {
	return &attachment.FileInfo{Key: key, ContentLength: 1}, nil
}

func (fakeStore) Download(_ context.Context, _, _ string) ([]byte, error) {
	return []byte("x"), nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	scheduler    *Scheduler
	sender       *fakeSender
	repo         *fakeRepo
	errorQueue   *fakeEnqueuer
	trackerQueue *fakeEnqueuer
}

func newFixture() *fixture {
	f := &fixture{
		sender:       &fakeSender{},
		repo:         &fakeRepo{stored: &repository.StoredRequest{Status: model.StatusRetry}},
		errorQueue:   &fakeEnqueuer{},
		trackerQueue: &fakeEnqueuer{},
	}
	pub := tracker.New(f.trackerQueue, map[string]string{"sms": "sms-tracker"}, zerolog.Nop())
	table := retrypolicy.FromConfig(map[string][]int{"sms": {2, 4}})
	cfg := Config{Channel: model.ChannelSMS, ErrorQueue: "sms-errors"}
	f.scheduler = New(cfg, table, f.sender, attachment.NewResolver(fakeStore{}), f.repo, pub, f.errorQueue, zerolog.Nop())
	f.scheduler.now = func() time.Time { return testNow }
	return f
}

func smsMessage() *queue.Message {
	msg := queue.NewMessage(&model.Request{
		RequestID: "req-1",
		ClientID:  "client-a",
		Channel:   model.ChannelSMS,
		SMS: &model.SMSPayload{
			ReceiverNumber: "+393331234567",
			MessageText:    "hello",
		},
	})
	msg.StatusBeforeRetry = model.StatusRetry
	return msg
}

func withCursor(f *fixture, step int, lastAttempt time.Time) {
	f.repo.stored.Retry = model.RetryState{
		Step:        &step,
		Policy:      []int{2, 4},
		LastAttempt: lastAttempt,
	}
}

func lastEvent(t *testing.T, q *fakeEnqueuer) *model.StatusEvent {
	t.Helper()
	if len(q.payloads) == 0 {
		t.Fatal("no event published")
	}
	event, ok := q.payloads[len(q.payloads)-1].(*model.StatusEvent)
	if !ok {
		t.Fatalf("unexpected payload %T", q.payloads[len(q.payloads)-1])
	}
	return event
}

func TestHandleMessageOpensCursor(t *testing.T) {
	f := newFixture()

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if disp != queue.Requeue {
		t.Errorf("first pass must requeue, got %v", disp)
	}
	if f.sender.calls != 0 {
		t.Errorf("first pass must not send")
	}
	if f.repo.retryState == nil || f.repo.retryState.Step == nil || *f.repo.retryState.Step != 0 {
		t.Fatalf("expected cursor persisted at step 0, got %+v", f.repo.retryState)
	}
	if !f.repo.retryState.LastAttempt.Equal(testNow) {
		t.Errorf("cursor must stamp the open time, got %v", f.repo.retryState.LastAttempt)
	}
}

func TestHandleMessageNotDue(t *testing.T) {
	f := newFixture()
	withCursor(f, 0, testNow.Add(-time.Minute))

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Requeue {
		t.Fatalf("expected Requeue before the step elapses, got %v / %v", disp, err)
	}
	if f.sender.calls != 0 {
		t.Errorf("not-due cursor must not send")
	}
}

func TestHandleMessageDueSuccess(t *testing.T) {
	f := newFixture()
	withCursor(f, 0, testNow.Add(-3*time.Minute))

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected clean Ack, got %v / %v", disp, err)
	}
	if f.sender.calls != 1 {
		t.Errorf("expected one send, got %d", f.sender.calls)
	}
	if f.repo.generated == nil || f.repo.generated.ID != "gen-req-1" {
		t.Errorf("generated message not persisted: %+v", f.repo.generated)
	}
	event := lastEvent(t, f.trackerQueue)
	if event.CurrentStatus != model.StatusRetry || event.NextStatus != model.StatusSent {
		t.Errorf("expected retry->sent, got %s->%s", event.CurrentStatus, event.NextStatus)
	}
}

func TestHandleMessageDueTransientAdvancesCursor(t *testing.T) {
	f := newFixture()
	withCursor(f, 0, testNow.Add(-3*time.Minute))
	f.sender.err = &gateway.SendError{Gateway: "sms-provider", StatusCode: 503, Message: "unavailable"}

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Requeue {
		t.Fatalf("expected Requeue after transient failure, got %v / %v", disp, err)
	}
	if f.repo.retryState == nil || *f.repo.retryState.Step != 1 {
		t.Fatalf("expected cursor advanced to step 1, got %+v", f.repo.retryState)
	}
	if !f.repo.retryState.LastAttempt.Equal(testNow) {
		t.Errorf("attempt time must be restamped, got %v", f.repo.retryState.LastAttempt)
	}
	event := lastEvent(t, f.trackerQueue)
	if event.CurrentStatus != model.StatusRetry || event.NextStatus != model.StatusRetry {
		t.Errorf("expected retry->retry, got %s->%s", event.CurrentStatus, event.NextStatus)
	}
}

func TestHandleMessageDuePermanent(t *testing.T) {
	f := newFixture()
	withCursor(f, 0, testNow.Add(-3*time.Minute))
	f.sender.err = &gateway.SendError{Gateway: "sms-provider", StatusCode: 400, Message: "invalid number", Permanent: true}

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected Ack after permanent rejection, got %v / %v", disp, err)
	}
	if event := lastEvent(t, f.trackerQueue); event.NextStatus != model.StatusDeliveryFailed {
		t.Errorf("expected deliveryFailed event, got %s", event.NextStatus)
	}
}

func TestHandleMessageExhaustedPolicy(t *testing.T) {
	f := newFixture()
	withCursor(f, 2, testNow.Add(-time.Minute))

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected Ack on exhaustion, got %v / %v", disp, err)
	}
	if f.sender.calls != 0 {
		t.Errorf("exhausted cursor must not send")
	}
	event := lastEvent(t, f.trackerQueue)
	if event.CurrentStatus != model.StatusRetry || event.NextStatus != model.StatusError {
		t.Errorf("expected retry->error, got %s->%s", event.CurrentStatus, event.NextStatus)
	}
}

func TestHandleMessageHardCeilingForcesAttempt(t *testing.T) {
	f := newFixture()
	// Step 1 wants 4 minutes but 41 have passed since the last attempt;
	// the ceiling forces the attempt regardless.
	withCursor(f, 1, testNow.Add(-41*time.Minute))

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected Ack after forced send, got %v / %v", disp, err)
	}
	if f.sender.calls != 1 {
		t.Errorf("expected a forced send, got %d calls", f.sender.calls)
	}
}

func TestHandleMessageCancelledRequest(t *testing.T) {
	f := newFixture()
	f.repo.stored.Status = model.StatusToDelete
	withCursor(f, 0, testNow.Add(-3*time.Minute))

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected Ack for cancelled request, got %v / %v", disp, err)
	}
	if f.sender.calls != 0 {
		t.Errorf("cancelled request must not be sent")
	}
	if len(f.trackerQueue.queues) != 0 {
		t.Errorf("cancelled drop publishes nothing")
	}
}

func TestHandleMessageUnknownRequestDropped(t *testing.T) {
	f := newFixture()
	f.repo.getErr = repository.ErrNotFound

	disp, err := f.scheduler.HandleMessage(context.Background(), smsMessage())
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected drop with Ack, got %v / %v", disp, err)
	}
}

func TestHandleMessagePendingSentEventFlushed(t *testing.T) {
	f := newFixture()
	msg := smsMessage()
	msg.StatusBeforeRetry = model.StatusSent
	msg.PendingEvent = &model.StatusEvent{
		EventID:       "evt-1",
		RequestID:     "req-1",
		ClientID:      "client-a",
		CurrentStatus: model.StatusBooked,
		NextStatus:    model.StatusSent,
	}

	disp, err := f.scheduler.HandleMessage(context.Background(), msg)
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected Ack after flush, got %v / %v", disp, err)
	}
	if event := lastEvent(t, f.trackerQueue); event.EventID != "evt-1" {
		t.Errorf("carried event must be flushed as-is, got %+v", event)
	}
	if len(f.errorQueue.queues) != 0 {
		t.Errorf("sent-only parking must not re-enqueue, got %v", f.errorQueue.queues)
	}
	if f.sender.calls != 0 {
		t.Errorf("flushing a sent event must never resend")
	}
}

func TestHandleMessagePendingRetryEventFlushedAndReenqueued(t *testing.T) {
	f := newFixture()
	msg := smsMessage()
	msg.PendingEvent = &model.StatusEvent{
		EventID:       "evt-2",
		RequestID:     "req-1",
		ClientID:      "client-a",
		CurrentStatus: model.StatusBooked,
		NextStatus:    model.StatusRetry,
	}

	disp, err := f.scheduler.HandleMessage(context.Background(), msg)
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected Ack with clean re-enqueue, got %v / %v", disp, err)
	}
	if len(f.errorQueue.queues) != 1 || f.errorQueue.queues[0] != "sms-errors" {
		t.Fatalf("expected a clean copy re-enqueued, got %v", f.errorQueue.queues)
	}
	clean, ok := f.errorQueue.payloads[0].(*queue.Message)
	if !ok {
		t.Fatalf("unexpected re-enqueued payload %T", f.errorQueue.payloads[0])
	}
	if clean.PendingEvent != nil {
		t.Errorf("re-enqueued copy must not carry the flushed event again")
	}
	if clean.StatusBeforeRetry != model.StatusRetry {
		t.Errorf("retry context must survive the flush, got %s", clean.StatusBeforeRetry)
	}
}

func TestHandleMessagePendingEventFlushFailure(t *testing.T) {
	f := newFixture()
	f.trackerQueue.err = errors.New("tracker queue unavailable")
	msg := smsMessage()
	msg.PendingEvent = &model.StatusEvent{EventID: "evt-3", NextStatus: model.StatusSent}

	disp, err := f.scheduler.HandleMessage(context.Background(), msg)
	if err != nil || disp != queue.Requeue {
		t.Fatalf("failed flush must requeue, got %v / %v", disp, err)
	}
}

func TestHandleMessageNilRequestDropped(t *testing.T) {
	f := newFixture()

	disp, err := f.scheduler.HandleMessage(context.Background(), &queue.Message{ID: "broken"})
	if err != nil || disp != queue.Ack {
		t.Fatalf("expected drop with Ack, got %v / %v", disp, err)
	}
}
