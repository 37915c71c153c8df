// Package backendtest is an in-memory stand-in for the hosted backend, speaking the
// subset of the auth and table REST API the backend package uses.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"bidmarket/internal/models"
)

const AnonKey = "anon-test-key"

type user struct {
	id       models.ID
	email    string
	password string
	role     models.Role
	metadata bool
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	seq       int
	users     map[string]*user
	access    map[string]models.ID
	refresh   map[string]models.ID
	projects  []models.Project
	proposals []models.Proposal
	profiles  map[models.ID]models.Profile

	// FailPatch makes PATCH on the named table ("projects", "proposals") answer with this status.
	FailPatch map[string]int
}

func New() *Server {
	s := &Server{
		users:     map[string]*user{},
		access:    map[string]models.ID{},
		refresh:   map[string]models.ID{},
		profiles:  map[models.ID]models.Profile{},
		FailPatch: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", s.token)
	mux.HandleFunc("/auth/v1/signup", s.signup)
	mux.HandleFunc("/auth/v1/logout", s.logout)
	mux.HandleFunc("/auth/v1/user", s.currentUser)
	mux.HandleFunc("/rest/v1/projects", s.authed(s.projectsTable))
	mux.HandleFunc("/rest/v1/proposals", s.authed(s.proposalsTable))
	mux.HandleFunc("/rest/v1/profiles", s.authed(s.profilesTable))
	s.Server = httptest.NewServer(mux)
	return s
}

// AddUser registers an account. With metadata the role also travels in the token's
// user metadata; without it the role is only in the profile row.
func (s *Server) AddUser(email, password string, role models.Role, metadata bool) models.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := models.ID(fmt.Sprintf("user-%d", s.seq))
	s.users[email] = &user{id: id, email: email, password: password, role: role, metadata: metadata}
	if role.Valid() {
		s.profiles[id] = models.Profile{ID: id, Role: role}
	}
	return id
}

func (s *Server) AddProject(p models.Project) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		s.seq++
		p.ID = models.ParseID(s.seq)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Origin = ""
	s.projects = append(s.projects, p)
	return p
}

func (s *Server) AddProposal(p models.Proposal) models.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		s.seq++
		p.ID = models.ParseID(s.seq)
	}
	p.Origin = ""
	s.proposals = append(s.proposals, p)
	return p
}

func (s *Server) Project(id models.ID) (models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return models.Project{}, false
}

func (s *Server) Proposal(id models.ID) (models.Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.proposals {
		if p.ID == id {
			return p, true
		}
	}
	return models.Proposal{}, false
}

func (s *Server) Profile(id models.ID) (models.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	return p, ok
}

func (s *Server) SetFailPatch(table string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailPatch[table] = status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}

func (s *Server) issueLocked(u *user) map[string]any {
	s.seq++
	at := fmt.Sprintf("at-%d", s.seq)
	rt := fmt.Sprintf("rt-%d", s.seq)
	s.access[at] = u.id
	s.refresh[rt] = u.id
	meta := map[string]any{}
	if u.metadata {
		meta["role"] = string(u.role)
	}
	return map[string]any{
		"access_token":  at,
		"refresh_token": rt,
		"expires_in":    3600,
		"user":          map[string]any{"id": u.id, "email": u.email, "user_metadata": meta},
	}
}

func (s *Server) userByID(id models.ID) *user {
	for _, u := range s.users {
		if u.id == id {
			return u
		}
	}
	return nil
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.URL.Query().Get("grant_type") {
	case "password":
		u, ok := s.users[body["email"]]
		if !ok || u.password != body["password"] {
			fail(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
			return
		}
		writeJSON(w, http.StatusOK, s.issueLocked(u))
	case "refresh_token":
		id, ok := s.refresh[body["refresh_token"]]
		if !ok {
			fail(w, http.StatusUnauthorized, "invalid_grant", "Invalid refresh token")
			return
		}
		delete(s.refresh, body["refresh_token"])
		writeJSON(w, http.StatusOK, s.issueLocked(s.userByID(id)))
	default:
		fail(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant")
	}
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Data     map[string]string `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[body.Email]; exists {
		fail(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}
	s.seq++
	u := &user{
		id:       models.ID(fmt.Sprintf("user-%d", s.seq)),
		email:    body.Email,
		password: body.Password,
		role:     models.ParseRole(body.Data["role"]),
		metadata: true,
	}
	s.users[body.Email] = u
	writeJSON(w, http.StatusOK, s.issueLocked(u))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.access, bearer(r))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.access[bearer(r)]
	if !ok {
		fail(w, http.StatusUnauthorized, "bad_jwt", "invalid token")
		return
	}
	u := s.userByID(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": u.id, "email": u.email})
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != AnonKey {
			fail(w, http.StatusUnauthorized, "no_api_key", "No API key found in request")
			return
		}
		s.mu.Lock()
		_, ok := s.access[bearer(r)]
		s.mu.Unlock()
		if !ok {
			fail(w, http.StatusUnauthorized, "PGRST301", "JWT expired")
			return
		}
		next(w, r)
	}
}

// eqFilter reads a PostgREST "col=eq.value" filter.
func eqFilter(r *http.Request, col string) (models.ID, bool) {
	v := r.URL.Query().Get(col)
	if !strings.HasPrefix(v, "eq.") {
		return "", false
	}
	return models.NormalizeID(strings.TrimPrefix(v, "eq.")), true
}

func inFilter(r *http.Request, col string) (map[models.ID]bool, bool) {
	v := r.URL.Query().Get(col)
	if !strings.HasPrefix(v, "in.(") || !strings.HasSuffix(v, ")") {
		return nil, false
	}
	out := map[models.ID]bool{}
	for _, part := range strings.Split(strings.TrimSuffix(strings.TrimPrefix(v, "in.("), ")"), ",") {
		out[models.NormalizeID(strings.Trim(part, `"`))] = true
	}
	return out, true
}

func (s *Server) projectsTable(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		client, byClient := eqFilter(r, "client_id")
		status, byStatus := eqFilter(r, "status")
		out := []models.Project{}
		for i := len(s.projects) - 1; i >= 0; i-- {
			p := s.projects[i]
			if byClient && p.ClientID != client {
				continue
			}
			if byStatus && string(p.Status) != string(status) {
				continue
			}
			out = append(out, p)
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var rows []models.Project
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			fail(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
		for i := range rows {
			s.seq++
			rows[i].ID = models.ParseID(s.seq)
			rows[i].CreatedAt = time.Now().UTC()
			s.projects = append(s.projects, rows[i])
		}
		writeJSON(w, http.StatusCreated, rows)
	case http.MethodPatch:
		if st := s.FailPatch["projects"]; st != 0 {
			fail(w, st, "patch_failed", "project update failed")
			return
		}
		id, _ := eqFilter(r, "id")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		out := []models.Project{}
		for i := range s.projects {
			if s.projects[i].ID == id {
				s.projects[i].Status = models.ProjectStatus(body["status"])
				out = append(out, s.projects[i])
			}
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) proposalsTable(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		ids, byProject := inFilter(r, "project_id")
		out := []models.Proposal{}
		for i := len(s.proposals) - 1; i >= 0; i-- {
			p := s.proposals[i]
			if byProject && !ids[p.ProjectID] {
				continue
			}
			out = append(out, p)
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var rows []models.Proposal
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			fail(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
		for i := range rows {
			s.seq++
			rows[i].ID = models.ParseID(s.seq)
			rows[i].CreatedAt = time.Now().UTC()
			s.proposals = append(s.proposals, rows[i])
		}
		writeJSON(w, http.StatusCreated, rows)
	case http.MethodPatch:
		if st := s.FailPatch["proposals"]; st != 0 {
			fail(w, st, "patch_failed", "proposal update failed")
			return
		}
		id, _ := eqFilter(r, "id")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		out := []models.Proposal{}
		for i := range s.proposals {
			if s.proposals[i].ID == id {
				s.proposals[i].Status = models.ProposalStatus(body["status"])
				out = append(out, s.proposals[i])
			}
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) profilesTable(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		id, _ := eqFilter(r, "id")
		out := []models.Profile{}
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var rows []models.Profile
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			fail(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
		for _, p := range rows {
			s.profiles[p.ID] = p
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodPatch:
		id, _ := eqFilter(r, "id")
		var body map[string]float64
		_ = json.NewDecoder(r.Body).Decode(&body)
		out := []models.Profile{}
		if p, ok := s.profiles[id]; ok {
			p.MinPrice = body["min_price"]
			s.profiles[id] = p
			out = append(out, p)
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
