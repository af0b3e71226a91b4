package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oslsr/kestrel/internal/thresholds"
)

// ListThresholds handles GET /fraud-thresholds, grouping active rules by
// category.
func (h *Handler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	snap, err := h.thresholds.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	grouped, err := h.thresholds.Grouped(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          grouped,
		"configVersion": snap.ConfigVersion,
	})
}

// ThresholdHistory handles GET /fraud-thresholds/{ruleKey}/history.
func (h *Handler) ThresholdHistory(w http.ResponseWriter, r *http.Request) {
	ruleKey := chi.URLParam(r, "ruleKey")
	history, err := h.thresholds.History(r.Context(), ruleKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ruleKey": ruleKey,
		"data":    history,
	})
}

// UpdateThreshold handles PUT /fraud-thresholds/{ruleKey}. The caller is
// recorded as the author of the new version.
func (h *Handler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	var in thresholds.UpdateInput
	if !h.decode(w, r, &in) {
		return
	}
	in.UpdatedBy = GetActor(r.Context()).ID

	rule, err := h.thresholds.Update(r.Context(), chi.URLParam(r, "ruleKey"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}
