package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"bidmarket/internal/activity"
	"bidmarket/internal/models"
)

// MyActivity returns the caller's most recent activity, newest first.
func MyActivity(rec activity.Recorder, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		st, err := env.State(r.Context())
		if err != nil {
			respondError(w, lg, err)
			return
		}
		limit := 200
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n < limit {
			limit = n
		}
		logs, err := rec.Recent(r.Context(), st.UserID(), limit)
		if err != nil {
			lg.Warnw("activity query failed", "error", err)
		}
		if logs == nil {
			logs = []models.ActivityLog{}
		}
		respondJSON(w, logs)
	}
}
