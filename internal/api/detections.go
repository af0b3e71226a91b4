package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oslsr/kestrel/internal/review"
	"github.com/oslsr/kestrel/internal/validation"
)

// ListDetections handles GET /fraud-detections.
func (h *Handler) ListDetections(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.reviews.List(r.Context(), GetActor(r.Context()), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListClusters handles GET /fraud-detections/clusters.
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.reviews.Clusters(r.Context(), GetActor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  clusters,
		"count": len(clusters),
	})
}

// GetDetection handles GET /fraud-detections/{id}.
func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request) {
	det, err := h.reviews.Get(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// ReviewDetection handles PATCH /fraud-detections/{id}/review.
func (h *Handler) ReviewDetection(w http.ResponseWriter, r *http.Request) {
	var req review.ReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	det, err := h.reviews.Review(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// BulkReview handles POST /fraud-detections/bulk-review.
func (h *Handler) BulkReview(w http.ResponseWriter, r *http.Request) {
	var req review.BulkReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.reviews.BulkReview(r.Context(), GetActor(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseFilter(q url.Values) (review.Filter, error) {
	verr := &validation.Error{}
	f := review.Filter{
		Severity:     q.Get("severity"),
		Resolution:   q.Get("resolution"),
		EnumeratorID: q.Get("enumeratorId"),
	}

	parseBool := func(name string) *bool {
		v := q.Get(name)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			verr.Add(name, name+" must be true or false")
			return nil
		}
		return &b
	}
	f.Reviewed = parseBool("reviewed")
	f.LatestOnly = parseBool("latestOnly")

	parseInt := func(name string) int {
		v := q.Get(name)
		if v == "" {
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			verr.Add(name, name+" must be a positive integer")
			return 0
		}
		return n
	}
	f.Page = parseInt("page")
	f.PageSize = parseInt("pageSize")

	f.DateFrom = parseDate(verr, q, "dateFrom", false)
	f.DateTo = parseDate(verr, q, "dateTo", true)

	return f, verr.OrNil()
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain dateTo
// covers the whole day.
func parseDate(verr *validation.Error, q url.Values, name string, endOfDay bool) *time.Time {
	v := q.Get(name)
	if v == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		verr.Add(name, name+" must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
		return nil
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t
}
