package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"bidmarket/internal/apperr"
	"bidmarket/internal/models"
	"bidmarket/internal/session"
	"bidmarket/internal/shell"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (c *credentialsReq) validate() error {
	c.Email = strings.TrimSpace(strings.ToLower(c.Email))
	if c.Email == "" || c.Password == "" {
		return apperr.Validation("credentials_required", "email and password required")
	}
	return nil
}

// sessionView is what the browser learns about its session.
type sessionView struct {
	Status  session.Status `json:"status"`
	UserID  models.ID      `json:"user_id,omitempty"`
	Email   string         `json:"email,omitempty"`
	Role    models.Role    `json:"role,omitempty"`
	Source  string         `json:"source,omitempty"`
	Mode    shell.Mode     `json:"mode"`
	Landing string         `json:"landing,omitempty"`
	Menu    []shell.Route  `json:"menu"`
}

func viewOf(st session.State) sessionView {
	v := sessionView{
		Status:  st.Status,
		UserID:  st.UserID(),
		Role:    st.Role,
		Source:  string(st.Source),
		Mode:    shell.ModeOf(st.Role),
		Landing: shell.Landing(st.Role),
		Menu:    shell.Menu(st.Role),
	}
	if st.Session != nil {
		v.Email = st.Session.Email
	}
	return v
}

func SignUp(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		var req credentialsReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, lg, err)
			return
		}
		if err := req.validate(); err != nil {
			respondError(w, lg, err)
			return
		}
		role := models.ParseRole(req.Role)
		if !role.Valid() {
			respondError(w, lg, apperr.Validation("invalid_role", "role must be client or marketer"))
			return
		}
		st, err := env.SignUp(r.Context(), req.Email, req.Password, role)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		respondStatus(w, http.StatusCreated, viewOf(st))
	}
}

func SignIn(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		var req credentialsReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, lg, err)
			return
		}
		if err := req.validate(); err != nil {
			respondError(w, lg, err)
			return
		}
		st, err := env.SignIn(r.Context(), req.Email, req.Password)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		respondJSON(w, viewOf(st))
	}
}

func SignOut(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		if err := env.SignOut(r.Context()); err != nil {
			respondError(w, lg, err)
			return
		}
		respondJSON(w, viewOf(env.Resolver.State()))
	}
}

// Refresh exchanges the refresh token. The resolver keeps the role it already knows.
func Refresh(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		if _, err := env.Auth.Refresh(r.Context()); err != nil {
			respondError(w, lg, err)
			return
		}
		st, err := env.State(r.Context())
		if err != nil {
			respondError(w, lg, err)
			return
		}
		respondJSON(w, viewOf(st))
	}
}

func Session(lg *zap.SugaredLogger) http.HandlerFunc {
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
		respondJSON(w, viewOf(st))
	}
}
