package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"bidmarket/internal/app"
	"bidmarket/internal/apperr"
	"bidmarket/internal/models"
	"bidmarket/internal/wizard"
)

// wizardPatch applies in field order; service goes first so a package can follow it.
// A budget of null clears it.
type wizardPatch struct {
	Service     *models.Category    `json:"service"`
	Package     *models.PackageTier `json:"package"`
	Description *string             `json:"description"`
	Budget      json.RawMessage     `json:"budget"`
	Urgency     *models.Timeline    `json:"urgency"`
}

func (p wizardPatch) apply(wz *wizard.Wizard) error {
	if p.Service != nil {
		if err := wz.SelectCategory(*p.Service); err != nil {
			return err
		}
	}
	if p.Package != nil {
		if err := wz.SelectTier(*p.Package); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := wz.SetDescription(*p.Description); err != nil {
			return err
		}
	}
	if len(p.Budget) > 0 {
		if string(p.Budget) == "null" {
			if err := wz.ClearBudget(); err != nil {
				return err
			}
		} else {
			var v float64
			if err := json.Unmarshal(p.Budget, &v); err != nil {
				return apperr.Validation("invalid_budget", "budget must be a number")
			}
			if err := wz.SetBudget(v); err != nil {
				return err
			}
		}
	}
	if p.Urgency != nil {
		if err := wz.SetTimeline(*p.Urgency); err != nil {
			return err
		}
	}
	return nil
}

func WizardCatalog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, wizard.Catalog)
	}
}

func WizardState(lg *zap.SugaredLogger) http.HandlerFunc {
	return wizardStep(lg, func(*app.Env, *http.Request) error { return nil })
}

func WizardPatch(lg *zap.SugaredLogger) http.HandlerFunc {
	return wizardStep(lg, func(env *app.Env, r *http.Request) error {
		var p wizardPatch
		if err := decodeJSON(r, &p); err != nil {
			return err
		}
		return p.apply(env.Wizard)
	})
}

func WizardNext(lg *zap.SugaredLogger) http.HandlerFunc {
	return wizardStep(lg, func(env *app.Env, _ *http.Request) error { return env.Wizard.Next() })
}

func WizardBack(lg *zap.SugaredLogger) http.HandlerFunc {
	return wizardStep(lg, func(env *app.Env, _ *http.Request) error { return env.Wizard.Back() })
}

// wizardStep runs fn and answers with the wizard snapshot. Changes are saved to the
// device cache even when fn fails part way through a patch.
func wizardStep(lg *zap.SugaredLogger, fn func(*app.Env, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		err = fn(env, r)
		env.SaveDraft(r.Context())
		if err != nil {
			respondError(w, lg, err)
			return
		}
		respondJSON(w, env.Wizard.Snapshot())
	}
}

func WizardSubmit(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := envOf(r)
		if err != nil {
			respondError(w, lg, err)
			return
		}
		p, err := env.SubmitWizard(r.Context())
		if err != nil {
			respondError(w, lg, err)
			return
		}
		respondStatus(w, http.StatusCreated, map[string]any{
			"project":  p,
			"redirect": "/client-dashboard",
		})
	}
}
