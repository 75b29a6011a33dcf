package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evicertia/pn-ec/internal/model"
)

// fakeManager records the calls made against the repository-manager surface.
type fakeManager struct {
	mux      *http.ServeMux
	inserted []model.Request
	patches  map[string]json.RawMessage
	stored   *StoredRequest
	conflict bool
}

func newFakeManager() *fakeManager {
	f := &fakeManager{
		mux:     http.NewServeMux(),
		patches: map[string]json.RawMessage{},
	}

	f.mux.HandleFunc("POST /repository-manager/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		if f.conflict {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var req model.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.inserted = append(f.inserted, req)
		w.WriteHeader(http.StatusCreated)
	})

	f.mux.HandleFunc("GET /repository-manager/v1/requests/{requestID}", func(w http.ResponseWriter, r *http.Request) {
		if f.stored == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(f.stored)
	})

	f.mux.HandleFunc("PATCH /repository-manager/v1/requests/{requestID}/{sub}", func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.patches[r.PathValue("sub")] = body
		w.WriteHeader(http.StatusNoContent)
	})

	return f
}

func newHTTPFixture(t *testing.T) (*HTTPRepository, *fakeManager) {
	t.Helper()
	manager := newFakeManager()
	srv := httptest.NewServer(manager.mux)
	t.Cleanup(srv.Close)
	return NewHTTPRepository(srv.URL, time.Second), manager
}

func TestHTTPInsertRequest(t *testing.T) {
	repo, manager := newHTTPFixture(t)

	err := repo.InsertRequest(context.Background(), &model.Request{
		RequestID: "req-1",
		ClientID:  "client-a",
		Channel:   model.ChannelSMS,
		SMS:       &model.SMSPayload{ReceiverNumber: "+393331234567", MessageText: "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manager.inserted) != 1 || manager.inserted[0].RequestID != "req-1" {
		t.Errorf("request not forwarded: %+v", manager.inserted)
	}
}

func TestHTTPInsertConflict(t *testing.T) {
	repo, manager := newHTTPFixture(t)
	manager.conflict = true

	err := repo.InsertRequest(context.Background(), &model.Request{RequestID: "req-1", ClientID: "client-a"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for 409, got %v", err)
	}
}

func TestHTTPGetRequest(t *testing.T) {
	repo, manager := newHTTPFixture(t)
	step := 1
	manager.stored = &StoredRequest{
		Request: model.Request{RequestID: "req-1", ClientID: "client-a", Channel: model.ChannelPEC},
		Status:  model.StatusRetry,
		Retry:   model.RetryState{Step: &step, Policy: []int{5, 10}},
	}

	stored, err := repo.GetRequest(context.Background(), "req-1", "client-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != model.StatusRetry {
		t.Errorf("expected retry status, got %s", stored.Status)
	}
	if stored.Retry.Step == nil || *stored.Retry.Step != 1 {
		t.Errorf("retry cursor lost in transit: %+v", stored.Retry)
	}
}

func TestHTTPGetRequestNotFound(t *testing.T) {
	repo, _ := newHTTPFixture(t)

	_, err := repo.GetRequest(context.Background(), "nope", "client-a")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for 404, got %v", err)
	}
}

func TestHTTPMetadataUpdates(t *testing.T) {
	repo, manager := newHTTPFixture(t)
	ctx := context.Background()

	gm := &model.GeneratedMessage{ID: "msg-1", System: "pec-smtp"}
	if err := repo.SetGeneratedMessageID(ctx, "req-1", "client-a", gm); err != nil {
		t.Fatalf("set generated: %v", err)
	}
	step := 0
	if err := repo.UpdateRetryState(ctx, "req-1", "client-a", &model.RetryState{Step: &step}); err != nil {
		t.Fatalf("update retry: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "req-1", "client-a", model.StatusToDelete); err != nil {
		t.Fatalf("update status: %v", err)
	}

	var sentGM model.GeneratedMessage
	if err := json.Unmarshal(manager.patches["generated-message"], &sentGM); err != nil || sentGM.ID != "msg-1" {
		t.Errorf("generated-message patch malformed: %s (%v)", manager.patches["generated-message"], err)
	}
	if _, ok := manager.patches["retry"]; !ok {
		t.Error("retry patch never sent")
	}
	var statusBody map[string]model.Status
	if err := json.Unmarshal(manager.patches["status"], &statusBody); err != nil || statusBody["status"] != model.StatusToDelete {
		t.Errorf("status patch malformed: %s (%v)", manager.patches["status"], err)
	}
}

func TestHTTPUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	repo := NewHTTPRepository(srv.URL, time.Second)
	if err := repo.InsertRequest(context.Background(), &model.Request{RequestID: "req-1"}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
