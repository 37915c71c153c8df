package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"bidmarket/internal/app"
	"bidmarket/internal/apperr"
	"bidmarket/internal/auth"
)

func respondJSON(w http.ResponseWriter, v interface{}) {
	respondStatus(w, http.StatusOK, v)
}

func respondStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// respondError writes {"error": code, "message": text} with the status of the error kind.
func respondError(w http.ResponseWriter, lg *zap.SugaredLogger, err error) {
	ae := apperr.As(err)
	status := apperr.Status(ae.Kind)
	if status >= http.StatusInternalServerError {
		lg.Errorw("request failed", "kind", ae.Kind, "code", ae.Code, "error", err)
	}
	respondStatus(w, status, ae)
}

// decodeJSON reads a request body; an empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid_json", err.Error())
	}
	return nil
}

func envOf(r *http.Request) (*app.Env, error) {
	env := auth.EnvFromContext(r.Context())
	if env == nil {
		return nil, apperr.Unauthenticated("no session")
	}
	return env, nil
}
