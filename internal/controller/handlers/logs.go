package handlers

import (
	"net/http"
	"strconv"

	"vlem/pkg/api"
)

// GetLabLogs handles GET /labs/{id}/logs.
// Query: after_id to page forward, limit (default 100, max 1000).
func (h *Handlers) GetLabLogs(w http.ResponseWriter, r *http.Request) {
	lab, ok := h.loadLab(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := 100
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	var afterID int64 = 0
	if after := query.Get("after_id"); after != "" {
		if parsed, err := strconv.ParseInt(after, 10, 64); err == nil {
			afterID = parsed
		}
	}

	logs, err := h.store.GetLabLogs(r.Context(), lab.ID, afterID, limit)
	if err != nil {
		h.storeError(w, r, "Failed to fetch logs", err)
		return
	}

	apiLogs := make([]api.LogEntry, len(logs))
	for i, entry := range logs {
		apiLogs[i] = api.LogEntry{
			ID:        entry.ID,
			Stage:     entry.Stage,
			Content:   entry.Content,
			CreatedAt: entry.CreatedAt,
		}
	}

	h.respondJson(w, http.StatusOK, api.GetLogsResponse{Logs: apiLogs})
}
