// Package shell decides what a browser may see for its resolved role: which page
// routes render, where "/" lands, and which JSON API prefixes are allowed.
package shell

import (
	"embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/casbin/casbin/v3"

	"bidmarket/internal/models"
	"bidmarket/internal/session"
)

//go:embed model.conf policy.csv
var embedFS embed.FS

const (
	actPage = "page"
	actAPI  = "api"
)

type Route struct {
	Path  string      `json:"path"`
	Label string      `json:"label"`
	Icon  string      `json:"icon"`
	Owner models.Role `json:"-"`
}

// Routes in menu order. The first route of each role is its landing route.
var Routes = []Route{
	{Path: "/client-dashboard", Label: "Dashboard", Icon: "layout-dashboard", Owner: models.RoleClient},
	{Path: "/wizard", Label: "New Project", Icon: "plus-circle", Owner: models.RoleClient},
	{Path: "/my-marketers", Label: "My Team", Icon: "users", Owner: models.RoleClient},
	{Path: "/approvals", Label: "Approvals", Icon: "check-square", Owner: models.RoleClient},
	{Path: "/wallet", Label: "Wallet & Invoices", Icon: "credit-card", Owner: models.RoleClient},
	{Path: "/feed", Label: "Opportunity Feed", Icon: "zap", Owner: models.RoleMarketer},
	{Path: "/workspace", Label: "Workspace", Icon: "briefcase", Owner: models.RoleMarketer},
	{Path: "/earnings", Label: "Earnings", Icon: "dollar-sign", Owner: models.RoleMarketer},
	{Path: "/profile", Label: "Profile", Icon: "user", Owner: models.RoleMarketer},
}

type Kind string

const (
	KindRender       Kind = "render"
	KindRedirect     Kind = "redirect"
	KindNotFound     Kind = "not_found"
	KindRoleNotFound Kind = "role_not_found"
	KindSignIn       Kind = "sign_in"
	KindLoading      Kind = "loading"
)

type Mode string

const (
	ModeClient     Mode = "client-scoped"
	ModeMarketer   Mode = "marketer-scoped"
	ModeUnresolved Mode = "unresolved"
)

func ModeOf(role models.Role) Mode {
	switch role {
	case models.RoleClient:
		return ModeClient
	case models.RoleMarketer:
		return ModeMarketer
	}
	return ModeUnresolved
}

type Decision struct {
	Kind     Kind        `json:"kind"`
	Path     string      `json:"path"`
	Location string      `json:"location,omitempty"`
	Role     models.Role `json:"role,omitempty"`
	Mode     Mode        `json:"mode"`
}

type Shell struct {
	enforcer *casbin.Enforcer
	known    map[string]Route
}

func New() (*Shell, error) {
	dir, err := os.MkdirTemp("", "bidmarket-casbin-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	for _, name := range []string{"model.conf", "policy.csv"} {
		data, err := embedFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			return nil, err
		}
	}
	e, err := casbin.NewEnforcer(filepath.Join(dir, "model.conf"), filepath.Join(dir, "policy.csv"))
	if err != nil {
		return nil, err
	}
	known := make(map[string]Route, len(Routes))
	for _, rt := range Routes {
		known[rt.Path] = rt
	}
	return &Shell{enforcer: e, known: known}, nil
}

// Landing returns the route "/" redirects to, or "" for an unresolved role.
func Landing(role models.Role) string {
	for _, rt := range Routes {
		if rt.Owner == role && role.Valid() {
			return rt.Path
		}
	}
	return ""
}

func Menu(role models.Role) []Route {
	out := []Route{}
	for _, rt := range Routes {
		if role.Valid() && rt.Owner == role {
			out = append(out, rt)
		}
	}
	return out
}

func (s *Shell) allowed(role models.Role, obj, act string) bool {
	if !role.Valid() {
		return false
	}
	ok, err := s.enforcer.Enforce(string(role), obj, act)
	return err == nil && ok
}

// Decide maps a resolver state and a page path to what the browser gets.
func (s *Shell) Decide(st session.State, path string) Decision {
	path = cleanPath(path)
	d := Decision{Path: path, Role: st.Role, Mode: ModeOf(st.Role)}
	_, known := s.known[path]
	switch {
	case !st.Terminal():
		d.Kind = KindLoading
	case path != "/" && !known:
		d.Kind = KindNotFound
	case !st.Authenticated():
		d.Kind = KindSignIn
	case !st.Role.Valid():
		d.Kind = KindRoleNotFound
	case path == "/":
		d.Kind, d.Location = KindRedirect, Landing(st.Role)
	case s.allowed(st.Role, path, actPage):
		d.Kind = KindRender
	default:
		d.Kind, d.Location = KindRedirect, "/"
	}
	return d
}

// AllowAPI reports whether role may call the JSON endpoint at path.
func (s *Shell) AllowAPI(role models.Role, path string) bool {
	return s.allowed(role, cleanPath(path), actAPI)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
