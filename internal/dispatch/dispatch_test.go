package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/config"
	"github.com/evicertia/pn-ec/internal/model"
	"github.com/evicertia/pn-ec/internal/repository"
	"github.com/evicertia/pn-ec/internal/tracker"
)

type fakeRepo struct {
	repository.Repository

	inserted  []*model.Request
	insertErr error
}

func (r *fakeRepo) InsertRequest(_ context.Context, req *model.Request) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, req)
	return nil
}

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

type fakeAttachmentStore struct {
	missing map[string]bool
}

func (s *fakeAttachmentStore) Stat(_ context.Context, key, _ string) (*attachment.FileInfo, error) {
	if s.missing[key] {
		return nil, attachment.ErrUnavailable
	}
	return &attachment.FileInfo{Key: key, ContentLength: 1}, nil
}

func (s *fakeAttachmentStore) Download(_ context.Context, key, _ string) ([]byte, error) {
	return []byte("x"), nil
}

type fixture struct {
	dispatcher   *Dispatcher
	repo         *fakeRepo
	sendQueue    *fakeEnqueuer
	trackerQueue *fakeEnqueuer
	store        *fakeAttachmentStore
}

func newFixture() *fixture {
	repo := &fakeRepo{}
	sendQueue := &fakeEnqueuer{}
	trackerQueue := &fakeEnqueuer{}
	store := &fakeAttachmentStore{missing: map[string]bool{}}

	pub := tracker.New(trackerQueue, map[string]string{
		"pec": "pec-tracker", "sms": "sms-tracker", "paper": "paper-tracker",
	}, zerolog.Nop())

	channels := map[string]config.ChannelConfig{
		"pec":   {InteractiveQueue: "pec-interactive", BatchQueue: "pec-batch"},
		"sms":   {InteractiveQueue: "sms-interactive", BatchQueue: "sms-batch"},
		"paper": {BatchQueue: "paper-batch"},
	}

	return &fixture{
		dispatcher:   New(repo, attachment.NewResolver(store), pub, sendQueue, channels, zerolog.Nop()),
		repo:         repo,
		sendQueue:    sendQueue,
		trackerQueue: trackerQueue,
		store:        store,
	}
}

func pecRequest(qos model.QoS) *model.Request {
	return &model.Request{
		RequestID: "req-1",
		ClientID:  "client-a",
		Channel:   model.ChannelPEC,
		QoS:       qos,
		PEC: &model.PECPayload{
			ReceiverAddress: "dest@pec.example.com",
			SenderAddress:   "sender@pec.example.com",
			Subject:         "Avviso",
			MessageText:     "corpo",
			AttachmentURIs:  []string{"doc-1"},
		},
		ClientTimestamp: time.Now().UTC(),
	}
}

func TestTakeInChargeInteractive(t *testing.T) {
	f := newFixture()

	if err := f.dispatcher.TakeInCharge(context.Background(), pecRequest(model.QoSInteractive)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(f.repo.inserted))
	}
	if len(f.sendQueue.queues) != 1 || f.sendQueue.queues[0] != "pec-interactive" {
		t.Errorf("expected routing to pec-interactive, got %v", f.sendQueue.queues)
	}
	if len(f.trackerQueue.queues) != 1 || f.trackerQueue.queues[0] != "pec-tracker" {
		t.Fatalf("expected one booked event on pec-tracker, got %v", f.trackerQueue.queues)
	}
	event, ok := f.trackerQueue.payloads[0].(*model.StatusEvent)
	if !ok {
		t.Fatalf("unexpected tracker payload %T", f.trackerQueue.payloads[0])
	}
	if event.NextStatus != model.StatusBooked || event.CurrentStatus != "" {
		t.Errorf("expected ''->booked transition, got %s->%s", event.CurrentStatus, event.NextStatus)
	}
}

func TestTakeInChargeBatch(t *testing.T) {
	f := newFixture()

	if err := f.dispatcher.TakeInCharge(context.Background(), pecRequest(model.QoSBatch)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sendQueue.queues) != 1 || f.sendQueue.queues[0] != "pec-batch" {
		t.Errorf("expected routing to pec-batch, got %v", f.sendQueue.queues)
	}
}

func TestTakeInChargeUnknownQoSBooksWithoutRouting(t *testing.T) {
	f := newFixture()

	if err := f.dispatcher.TakeInCharge(context.Background(), pecRequest("EXPRESS")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.repo.inserted) != 1 {
		t.Errorf("request must still be registered")
	}
	if len(f.trackerQueue.queues) != 1 {
		t.Errorf("booked event must still be published")
	}
	if len(f.sendQueue.queues) != 0 {
		t.Errorf("unknown urgency class must not route, got %v", f.sendQueue.queues)
	}
}

func TestTakeInChargePaperAlwaysBatch(t *testing.T) {
	f := newFixture()
	req := &model.Request{
		RequestID: "req-2",
		ClientID:  "client-a",
		Channel:   model.ChannelPaper,
		Paper: &model.PaperPayload{
			ProductType:     "AR",
			ReceiverName:    "Mario Rossi",
			ReceiverAddress: "Via Roma 1",
			ReceiverZip:     "00100",
			ReceiverCity:    "Roma",
			SenderName:      "Comune",
			SenderAddress:   "Piazza 1",
			SenderCity:      "Roma",
		},
	}

	if err := f.dispatcher.TakeInCharge(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sendQueue.queues) != 1 || f.sendQueue.queues[0] != "paper-batch" {
		t.Errorf("paper must route to its batch queue, got %v", f.sendQueue.queues)
	}
}

func TestTakeInChargeInvalidRequest(t *testing.T) {
	f := newFixture()
	req := pecRequest(model.QoSInteractive)
	req.RequestID = ""

	err := f.dispatcher.TakeInCharge(context.Background(), req)
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(f.repo.inserted) != 0 || len(f.trackerQueue.queues) != 0 {
		t.Error("invalid request must cause no side effects")
	}
}

func TestTakeInChargeMissingAttachment(t *testing.T) {
	f := newFixture()
	f.store.missing["doc-1"] = true

	err := f.dispatcher.TakeInCharge(context.Background(), pecRequest(model.QoSInteractive))
	if !errors.Is(err, ErrAttachmentUnavailable) {
		t.Fatalf("expected ErrAttachmentUnavailable, got %v", err)
	}
	if len(f.repo.inserted) != 0 {
		t.Error("request with missing attachment must not be registered")
	}
}

func TestTakeInChargeDuplicate(t *testing.T) {
	f := newFixture()
	f.repo.insertErr = repository.ErrAlreadyExists

	err := f.dispatcher.TakeInCharge(context.Background(), pecRequest(model.QoSInteractive))
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	if len(f.sendQueue.queues) != 0 || len(f.trackerQueue.queues) != 0 {
		t.Error("duplicate must not publish or route")
	}
}

func TestTakeInChargeRepositoryDown(t *testing.T) {
	f := newFixture()
	f.repo.insertErr = errors.New("connection refused")

	err := f.dispatcher.TakeInCharge(context.Background(), pecRequest(model.QoSInteractive))
	if !errors.Is(err, ErrRegistrationFailed) {
		t.Fatalf("expected ErrRegistrationFailed, got %v", err)
	}
}

func TestTakeInChargePublishFailureFailsAdmission(t *testing.T) {
	f := newFixture()
	f.trackerQueue.err = errors.New("queue unavailable")

	err := f.dispatcher.TakeInCharge(context.Background(), pecRequest(model.QoSInteractive))
	if !errors.Is(err, tracker.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if len(f.sendQueue.queues) != 0 {
		t.Error("failed admission must not route to a send queue")
	}
}
