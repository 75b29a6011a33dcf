package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evicertia/pn-ec/internal/auth"
	"github.com/evicertia/pn-ec/internal/dispatch"
	"github.com/evicertia/pn-ec/internal/model"
	"github.com/evicertia/pn-ec/internal/repository"
)

// admissionEnvelope is the shared wrapper of every channel's PUT body: the
// urgency class and the request metadata around the channel payload.
type admissionEnvelope struct {
	QoS             model.QoS `json:"qos,omitempty"`
	CorrelationID   string    `json:"correlationId,omitempty"`
	EventType       string    `json:"eventType,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	ClientTimestamp time.Time `json:"clientRequestTimestamp"`
}

type pecAdmission struct {
	admissionEnvelope
	model.PECPayload
}

type smsAdmission struct {
	admissionEnvelope
	model.SMSPayload
}

type paperAdmission struct {
	admissionEnvelope
	model.PaperPayload
}

// AdmitPECHandler handles PUT of a certified-mail delivery request.
func AdmitPECHandler(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body pecAdmission
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondProblem(w, r, http.StatusBadRequest, "invalid json body")
			return
		}
		payload := body.PECPayload
		req := requestFromEnvelope(r, body.admissionEnvelope, model.ChannelPEC)
		req.PEC = &payload
		admit(w, r, d, req)
	}
}

// AdmitSMSHandler handles PUT of a courtesy-SMS delivery request.
func AdmitSMSHandler(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body smsAdmission
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondProblem(w, r, http.StatusBadRequest, "invalid json body")
			return
		}
		payload := body.SMSPayload
		req := requestFromEnvelope(r, body.admissionEnvelope, model.ChannelSMS)
		req.SMS = &payload
		admit(w, r, d, req)
	}
}

// AdmitPaperHandler handles PUT of a paper engagement request.
func AdmitPaperHandler(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body paperAdmission
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondProblem(w, r, http.StatusBadRequest, "invalid json body")
			return
		}
		payload := body.PaperPayload
		req := requestFromEnvelope(r, body.admissionEnvelope, model.ChannelPaper)
		req.Paper = &payload
		admit(w, r, d, req)
	}
}

func requestFromEnvelope(r *http.Request, env admissionEnvelope, channel model.Channel) *model.Request {
	return &model.Request{
		RequestID:       chi.URLParam(r, "requestIdx"),
		ClientID:        auth.ClientIDFromContext(r.Context()),
		Channel:         channel,
		QoS:             env.QoS,
		CorrelationID:   env.CorrelationID,
		EventType:       env.EventType,
		Tags:            env.Tags,
		ClientTimestamp: env.ClientTimestamp,
	}
}

// admit runs take-in-charge and maps its error taxonomy onto HTTP statuses.
// Any non-2xx answer means the request was not admitted and may be resent.
func admit(w http.ResponseWriter, r *http.Request, d *dispatch.Dispatcher, req *model.Request) {
	err := d.TakeInCharge(r.Context(), req)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, map[string]string{
			"requestId": req.RequestID,
			"status":    string(model.StatusBooked),
		})
	case errors.Is(err, model.ErrInvalidRequest):
		respondProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrAttachmentUnavailable):
		respondProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrDuplicateRequest):
		respondProblem(w, r, http.StatusConflict, err.Error())
	default:
		respondProblem(w, r, http.StatusServiceUnavailable, err.Error())
	}
}

// GetRequestHandler returns the stored request and its delivery metadata.
func GetRequestHandler(repo repository.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestIdx")
		clientID := auth.ClientIDFromContext(r.Context())

		stored, err := repo.GetRequest(r.Context(), requestID, clientID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				respondProblem(w, r, http.StatusNotFound, "request not found")
				return
			}
			respondProblem(w, r, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, stored)
	}
}

// CancelRequestHandler marks a request toDelete. In-flight queue messages
// observe the status and drop without sending.
func CancelRequestHandler(repo repository.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestIdx")
		clientID := auth.ClientIDFromContext(r.Context())

		stored, err := repo.GetRequest(r.Context(), requestID, clientID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				respondProblem(w, r, http.StatusNotFound, "request not found")
				return
			}
			respondProblem(w, r, http.StatusServiceUnavailable, err.Error())
			return
		}
		if stored.Status.Terminal() {
			respondProblem(w, r, http.StatusConflict, "request already in terminal status "+string(stored.Status))
			return
		}

		if err := repo.UpdateStatus(r.Context(), requestID, clientID, model.StatusToDelete); err != nil {
			respondProblem(w, r, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondJSON(w, http.StatusNoContent, nil)
	}
}
