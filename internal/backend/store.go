package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"bidmarket/internal/apperr"
	"bidmarket/internal/models"
)

const (
	tableProjects  = "/rest/v1/projects"
	tableProposals = "/rest/v1/proposals"
	tableProfiles  = "/rest/v1/profiles"
)

// Store is the table API bound to one user's access token.
type Store struct {
	c     *Client
	token string
}

func (c *Client) Store(token string) *Store {
	return &Store{c: c, token: token}
}

type projectRow struct {
	ClientID    models.ID            `json:"client_id"`
	Title       string               `json:"title"`
	Category    models.Category      `json:"service"`
	Package     models.PackageTier   `json:"package"`
	Description string               `json:"description"`
	Budget      float64              `json:"budget"`
	Timeline    models.Timeline      `json:"urgency"`
	Status      models.ProjectStatus `json:"status"`
}

type proposalRow struct {
	ProjectID    models.ID             `json:"project_id"`
	ProjectTitle string                `json:"project_title,omitempty"`
	MarketerID   models.ID             `json:"marketer_id"`
	MarketerRole models.Role           `json:"marketer_role"`
	Amount       float64               `json:"amount"`
	Pitch        string                `json:"pitch"`
	Status       models.ProposalStatus `json:"status"`
}

var representation = map[string]string{"Prefer": "return=representation"}

func (s *Store) ListProjectsByClient(ctx context.Context, clientID models.ID) ([]models.Project, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("client_id", "eq."+clientID.String())
	q.Set("order", "created_at.desc")
	var rows []models.Project
	if err := s.c.do(ctx, request{op: "list_projects", method: http.MethodGet, path: tableProjects, token: s.token, query: q}, &rows); err != nil {
		return nil, err
	}
	return markRemote(rows), nil
}

func (s *Store) ListOpenProjects(ctx context.Context) ([]models.Project, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("status", "eq."+string(models.ProjectOpen))
	q.Set("order", "created_at.desc")
	var rows []models.Project
	if err := s.c.do(ctx, request{op: "list_open_projects", method: http.MethodGet, path: tableProjects, token: s.token, query: q}, &rows); err != nil {
		return nil, err
	}
	return markRemote(rows), nil
}

func (s *Store) ListProposalsByProjects(ctx context.Context, projectIDs []models.ID) ([]models.Proposal, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(projectIDs))
	for _, id := range projectIDs {
		ids = append(ids, quoteFilter(id.String()))
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("project_id", "in.("+strings.Join(ids, ",")+")")
	q.Set("order", "created_at.desc")
	var rows []models.Proposal
	if err := s.c.do(ctx, request{op: "list_proposals", method: http.MethodGet, path: tableProposals, token: s.token, query: q}, &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Origin = models.OriginRemote
	}
	return rows, nil
}

func (s *Store) InsertProject(ctx context.Context, p models.Project) (models.Project, error) {
	row := projectRow{
		ClientID:    p.ClientID,
		Title:       p.Title,
		Category:    p.Category,
		Package:     p.Package,
		Description: p.Description,
		Budget:      p.Budget,
		Timeline:    p.Timeline,
		Status:      models.ProjectOpen,
	}
	var out []models.Project
	if err := s.c.do(ctx, request{op: "insert_project", method: http.MethodPost, path: tableProjects, token: s.token, body: []projectRow{row}, headers: representation}, &out); err != nil {
		return models.Project{}, err
	}
	if len(out) == 0 {
		return models.Project{}, apperr.Transient("backend returned no project row", nil)
	}
	created := out[0]
	created.Origin = models.OriginRemote
	return created, nil
}

func (s *Store) InsertProposal(ctx context.Context, p models.Proposal) (models.Proposal, error) {
	row := proposalRow{
		ProjectID:    p.ProjectID,
		ProjectTitle: p.ProjectTitle,
		MarketerID:   p.MarketerID,
		MarketerRole: models.RoleMarketer,
		Amount:       p.Amount,
		Pitch:        p.Pitch,
		Status:       models.ProposalOpen,
	}
	var out []models.Proposal
	if err := s.c.do(ctx, request{op: "insert_proposal", method: http.MethodPost, path: tableProposals, token: s.token, body: []proposalRow{row}, headers: representation}, &out); err != nil {
		return models.Proposal{}, err
	}
	if len(out) == 0 {
		return models.Proposal{}, apperr.Transient("backend returned no proposal row", nil)
	}
	created := out[0]
	created.Origin = models.OriginRemote
	return created, nil
}

// UpdateProjectStatus fails with not_found when no row matched, so callers never
// mistake a silent no-op for success.
func (s *Store) UpdateProjectStatus(ctx context.Context, id models.ID, status models.ProjectStatus) error {
	return s.patchStatus(ctx, "update_project", tableProjects, id, string(status))
}

func (s *Store) UpdateProposalStatus(ctx context.Context, id models.ID, status models.ProposalStatus) error {
	return s.patchStatus(ctx, "update_proposal", tableProposals, id, string(status))
}

func (s *Store) patchStatus(ctx context.Context, op, table string, id models.ID, status string) error {
	q := url.Values{}
	q.Set("id", "eq."+id.String())
	var out []map[string]any
	err := s.c.do(ctx, request{op: op, method: http.MethodPatch, path: table, token: s.token, query: q, body: map[string]string{"status": status}, headers: representation}, &out)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return apperr.NotFound(op + ": no row with id " + id.String())
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID models.ID) (models.Profile, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+userID.String())
	q.Set("limit", "1")
	var rows []models.Profile
	if err := s.c.do(ctx, request{op: "get_profile", method: http.MethodGet, path: tableProfiles, token: s.token, query: q}, &rows); err != nil {
		return models.Profile{}, err
	}
	if len(rows) == 0 {
		return models.Profile{}, apperr.NotFound("profile not found")
	}
	return rows[0], nil
}

func (s *Store) InsertProfile(ctx context.Context, p models.Profile) error {
	body := []map[string]any{{"id": p.ID, "role": p.Role}}
	return s.c.do(ctx, request{op: "insert_profile", method: http.MethodPost, path: tableProfiles, token: s.token, body: body}, nil)
}

func (s *Store) UpdateMinPrice(ctx context.Context, userID models.ID, minPrice float64) error {
	q := url.Values{}
	q.Set("id", "eq."+userID.String())
	var out []models.Profile
	err := s.c.do(ctx, request{op: "update_profile", method: http.MethodPatch, path: tableProfiles, token: s.token, query: q, body: map[string]float64{"min_price": minPrice}, headers: representation}, &out)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return apperr.NotFound("profile not found")
	}
	return nil
}

func markRemote(rows []models.Project) []models.Project {
	for i := range rows {
		rows[i].Origin = models.OriginRemote
	}
	return rows
}

func quoteFilter(v string) string {
	if strings.ContainsAny(v, ",()\" ") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}
