package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"bidmarket/internal/shell"
)

type pageView struct {
	shell.Decision
	Title   string        `json:"title,omitempty"`
	Menu    []shell.Route `json:"menu"`
	Actions []string      `json:"actions,omitempty"`
}

// Page answers the page routes: a descriptor to render, a redirect, or one of the terminal views.
func Page(sh *shell.Shell, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		// A resolver still running past the request deadline answers "loading".
		st, _ := env.State(r.Context())
		d := sh.Decide(st, r.URL.Path)
		v := pageView{Decision: d, Menu: shell.Menu(st.Role)}

		switch d.Kind {
		case shell.KindRedirect:
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		case shell.KindNotFound:
			respondStatus(w, http.StatusNotFound, v)
			return
		case shell.KindRender:
			for _, rt := range shell.Routes {
				if rt.Path == d.Path {
					v.Title = rt.Label
				}
			}
		case shell.KindRoleNotFound:
			v.Actions = []string{"sign_out"}
		case shell.KindSignIn:
			v.Actions = []string{"sign_in", "sign_up"}
		case shell.KindLoading:
			w.Header().Set("Retry-After", "1")
		}
		respondJSON(w, v)
	}
}

// Nav returns the sidebar for the current role.
func Nav(lg *zap.SugaredLogger) http.HandlerFunc {
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
		respondJSON(w, map[string]any{
			"mode":    shell.ModeOf(st.Role),
			"landing": shell.Landing(st.Role),
			"menu":    shell.Menu(st.Role),
		})
	}
}
