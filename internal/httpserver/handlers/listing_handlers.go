package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bidmarket/internal/activity"
	"bidmarket/internal/app"
	"bidmarket/internal/apperr"
	"bidmarket/internal/listing"
	"bidmarket/internal/models"
)

func sourceOf(r *http.Request) (listing.Source, error) {
	s, ok := listing.ParseSource(r.URL.Query().Get("source"))
	if !ok {
		return "", apperr.Validation("invalid_source", "source must be local, remote or merged")
	}
	return s, nil
}

// viewFor resolves the caller and the listing view for role.
func viewFor(r *http.Request, role models.Role) (*app.Env, *listing.View, listing.Viewer, error) {
	env, err := envOf(r)
	if err != nil {
		return nil, nil, listing.Viewer{}, err
	}
	src, err := sourceOf(r)
	if err != nil {
		return nil, nil, listing.Viewer{}, err
	}
	who, _, err := env.Viewer(r.Context())
	if err != nil {
		return nil, nil, listing.Viewer{}, err
	}
	return env, env.View(role, src), who, nil
}

func idParam(r *http.Request) (models.ID, error) {
	id := models.NormalizeID(chi.URLParam(r, "id"))
	if id.IsZero() {
		return "", apperr.Validation("id_required", "id required")
	}
	return id, nil
}

// ListProjects is the client dashboard: own projects with proposal counts.
func ListProjects(lg *zap.SugaredLogger) http.HandlerFunc {
	return listFor(models.RoleClient, lg)
}

// Feed is the marketer opportunity feed classified against the minimum price.
func Feed(lg *zap.SugaredLogger) http.HandlerFunc {
	return listFor(models.RoleMarketer, lg)
}

func listFor(role models.Role, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, v, who, err := viewFor(r, role)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		res, err := v.Load(r.Context(), who)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		respondJSON(w, res)
	}
}

func ProjectProposals(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, v, who, err := viewFor(r, models.RoleClient)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		id, err := idParam(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		props, err := v.ProposalsFor(r.Context(), who, id)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		if props == nil {
			props = []models.Proposal{}
		}
		respondJSON(w, props)
	}
}

type acceptReq struct {
	Confirm bool `json:"confirm"`
}

func AcceptProposal(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, v, who, err := viewFor(r, models.RoleClient)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		id, err := idParam(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		var req acceptReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, lg, err)
			return
		}
		res, err := v.AcceptProposal(r.Context(), who, id, req.Confirm)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		env.Record(r.Context(), activity.ActionProposalAccept, map[string]any{"proposal_id": id})
		respondJSON(w, res)
	}
}

func ClaimBid(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, v, who, err := viewFor(r, models.RoleMarketer)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		id, err := idParam(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		res, err := v.ClaimBid(r.Context(), who, id)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		env.Record(r.Context(), activity.ActionBidClaim, map[string]any{"project_id": id})
		respondJSON(w, res)
	}
}

type proposalReq struct {
	Amount *float64 `json:"amount"`
	Pitch  string   `json:"pitch"`
}

func SubmitProposal(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, v, who, err := viewFor(r, models.RoleMarketer)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		id, err := idParam(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		var req proposalReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, lg, err)
			return
		}
		p, err := v.SubmitProposal(r.Context(), who, id, req.Amount, req.Pitch)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		env.Record(r.Context(), activity.ActionProposalSubmit, map[string]any{"project_id": id, "amount": p.Amount})
		respondStatus(w, http.StatusCreated, p)
	}
}

type profileReq struct {
	MinPrice *float64 `json:"min_price"`
}

func UpdateProfile(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		var req profileReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, lg, err)
			return
		}
		if req.MinPrice == nil {
			respondError(w, lg, apperr.Validation("min_price_required", "min_price required"))
			return
		}
		if err := env.UpdateMinPrice(r.Context(), *req.MinPrice); err != nil {
			respondError(w, lg, err)
			return
		}
		who, _, _ := env.Viewer(r.Context())
		respondJSON(w, map[string]any{"user_id": who.UserID, "min_price": who.MinPrice})
	}
}
