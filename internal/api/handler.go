package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/review"
	"github.com/oslsr/kestrel/internal/thresholds"
	"github.com/oslsr/kestrel/internal/validation"
	"github.com/oslsr/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	thresholds *thresholds.Service
	reviews    *review.Service
	dispatcher *worker.Dispatcher
	validate   *validator.Validate
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		thresholds: deps.Thresholds,
		reviews:    deps.Reviews,
		dispatcher: deps.Dispatcher,
		validate:   validation.New(),
		version:    deps.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether every backend answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	ctx := r.Context()
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// SubmissionRequest is the request body for POST /submissions.
type SubmissionRequest struct {
	ID                    string         `json:"id,omitempty" validate:"omitempty,max=64"`
	EnumeratorID          string         `json:"enumeratorId" validate:"required"`
	RespondentID          string         `json:"respondentId,omitempty"`
	FormID                string         `json:"questionnaireFormId,omitempty"`
	RawData               map[string]any `json:"rawData,omitempty"`
	GPSLatitude           *float64       `json:"gpsLatitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	GPSLongitude          *float64       `json:"gpsLongitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	GPSAccuracyM          *float64       `json:"gpsAccuracyM,omitempty" validate:"omitempty,gte=0"`
	CompletionTimeSeconds *int           `json:"completionTimeSeconds,omitempty" validate:"omitempty,gte=0"`
	SubmittedAt           time.Time      `json:"submittedAt" validate:"required"`
}

// QueuedResponse reports the evaluation job of a submission.
type QueuedResponse struct {
	SubmissionID string `json:"submissionId"`
	JobID        string `json:"jobId"`
	Queued       bool   `json:"queued"`
}

// CreateSubmission stores a submission and queues its evaluation.
func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	verr := validation.Struct(h.validate, req)
	if (req.GPSLatitude == nil) != (req.GPSLongitude == nil) {
		verr.Add("gpsLatitude", "gpsLatitude and gpsLongitude must be sent together")
	}
	if err := verr.OrNil(); err != nil {
		writeError(w, err)
		return
	}

	sub := &domain.Submission{
		ID:                    req.ID,
		EnumeratorID:          req.EnumeratorID,
		RespondentID:          req.RespondentID,
		FormID:                req.FormID,
		RawData:               req.RawData,
		GPSLatitude:           req.GPSLatitude,
		GPSLongitude:          req.GPSLongitude,
		GPSAccuracyM:          req.GPSAccuracyM,
		CompletionTimeSeconds: req.CompletionTimeSeconds,
		SubmittedAt:           req.SubmittedAt.UTC(),
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if err := h.repo.SaveSubmission(ctx, sub); err != nil {
		writeError(w, err)
		return
	}

	h.enqueue(w, r, sub.ID, http.StatusAccepted)
}

// EvaluateSubmission queues a (re)evaluation of a stored submission.
func (h *Handler) EvaluateSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.repo.GetSubmission(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.enqueue(w, r, id, http.StatusAccepted)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, submissionID string, status int) {
	job, err := h.dispatcher.Enqueue(r.Context(), worker.Job{
		SubmissionID: submissionID,
		RequestedBy:  GetActor(r.Context()).ID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := QueuedResponse{SubmissionID: submissionID, JobID: worker.JobID(submissionID), Queued: job != nil}
	if job == nil {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// FormRequest is the request body for POST /forms.
type FormRequest struct {
	ID     string         `json:"id,omitempty" validate:"omitempty,max=64"`
	Name   string         `json:"name" validate:"required,max=200"`
	Schema map[string]any `json:"formSchema" validate:"required"`
}

// CreateForm stores a questionnaire definition.
func (h *Handler) CreateForm(w http.ResponseWriter, r *http.Request) {
	var req FormRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Struct(h.validate, req).OrNil(); err != nil {
		writeError(w, err)
		return
	}

	form := &domain.Form{ID: req.ID, Name: req.Name, Schema: req.Schema}
	if form.ID == "" {
		form.ID = uuid.New().String()
	}
	if err := h.repo.SaveForm(r.Context(), form); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("form saved", "form_id", form.ID, "name", form.Name)
	writeJSON(w, http.StatusCreated, form)
}

// AssignRequest is the request body for POST /teams/{supervisorId}/enumerators.
type AssignRequest struct {
	EnumeratorID string `json:"enumeratorId" validate:"required"`
}

// AssignEnumerator adds an enumerator to a supervisor's team.
func (h *Handler) AssignEnumerator(w http.ResponseWriter, r *http.Request) {
	supervisorID := chi.URLParam(r, "supervisorId")

	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Struct(h.validate, req).OrNil(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.AssignEnumerator(r.Context(), supervisorID, req.EnumeratorID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"supervisorId": supervisorID,
		"enumeratorId": req.EnumeratorID,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSubmissionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyResolved), errors.Is(err, domain.ErrDuplicateDetection):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
