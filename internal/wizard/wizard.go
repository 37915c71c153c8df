// Package wizard is the three step form a client fills in to post a project:
// service, then package and description, then budget and timeline.
package wizard

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"bidmarket/internal/apperr"
	"bidmarket/internal/models"
)

type Step int

const (
	StepService Step = 1
	StepScope   Step = 2
	StepBid     Step = 3
)

type Hint string

const (
	HintNone  Hint = ""
	HintLow   Hint = "low"
	HintMatch Hint = "match"
)

// Draft is everything the user has entered so far. It is what gets persisted between requests.
type Draft struct {
	Step        Step               `json:"step"`
	Category    models.Category    `json:"service,omitempty"`
	Tier        models.PackageTier `json:"package,omitempty"`
	Description string             `json:"description,omitempty"`
	Budget      *float64           `json:"budget,omitempty"`
	Timeline    models.Timeline    `json:"urgency,omitempty"`
}

type Snapshot struct {
	Draft
	Submitting bool `json:"submitting"`
	BudgetHint Hint `json:"budget_hint,omitempty"`
	CanBack    bool `json:"can_back"`
	CanAdvance bool `json:"can_advance"`
}

type Thresholds struct {
	Low   float64
	Match float64
}

// Sink persists a finished project.
type Sink interface {
	CreateProject(ctx context.Context, p models.Project) (models.Project, error)
}

type Wizard struct {
	th Thresholds

	mu         sync.Mutex
	d          Draft
	submitting bool
}

func New(th Thresholds) *Wizard {
	return &Wizard{th: th, d: Draft{Step: StepService}}
}

func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Wizard) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.copyDraftLocked()
}

// Restore replaces the draft, e.g. with one read back from the cache.
func (w *Wizard) Restore(d Draft) {
	if d.Step < StepService || d.Step > StepBid {
		d.Step = StepService
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return
	}
	w.d = d
}

func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.d = Draft{Step: StepService}
}

func (w *Wizard) SelectCategory(c models.Category) error {
	if _, ok := LookupService(c); !ok {
		return apperr.Validation("unknown_service", "unknown service category")
	}
	return w.edit(func(d *Draft) {
		if d.Category != c {
			d.Tier = ""
		}
		d.Category = c
	})
}

func (w *Wizard) SelectTier(t models.PackageTier) error {
	return w.editErr(func(d *Draft) error {
		if d.Category == "" {
			return apperr.Validation("service_required", "select a service first")
		}
		if _, ok := LookupPackage(d.Category, t); !ok {
			return apperr.Validation("unknown_package", "unknown package for this service")
		}
		d.Tier = t
		return nil
	})
}

func (w *Wizard) SetDescription(s string) error {
	return w.edit(func(d *Draft) { d.Description = s })
}

// SetBudget accepts any finite non-negative amount. Low amounts only carry a hint.
func (w *Wizard) SetBudget(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return apperr.Validation("invalid_budget", "budget must be a non-negative number")
	}
	return w.edit(func(d *Draft) { d.Budget = &v })
}

func (w *Wizard) ClearBudget() error {
	return w.edit(func(d *Draft) { d.Budget = nil })
}

func (w *Wizard) SetTimeline(t models.Timeline) error {
	if _, ok := models.ParseTimeline(string(t)); !ok {
		return apperr.Validation("invalid_timeline", "timeline must be urgent, normal or flexible")
	}
	return w.edit(func(d *Draft) { d.Timeline = t })
}

// Next advances exactly one step when the current step is complete.
func (w *Wizard) Next() error {
	return w.editErr(func(d *Draft) error {
		if err := gate(*d); err != nil {
			return err
		}
		if d.Step == StepBid {
			return apperr.Validation("last_step", "already at the last step")
		}
		d.Step++
		return nil
	})
}

func (w *Wizard) Back() error {
	return w.editErr(func(d *Draft) error {
		if d.Step == StepService {
			return apperr.Validation("first_step", "already at the first step")
		}
		d.Step--
		return nil
	})
}

// Submit builds the project and hands it to sink. On failure the draft is left as it was;
// on success the wizard resets. A submit while another is in flight is a conflict.
func (w *Wizard) Submit(ctx context.Context, clientID models.ID, sink Sink) (models.Project, error) {
	w.mu.Lock()
	if w.submitting {
		w.mu.Unlock()
		return models.Project{}, apperr.Conflict("submit_in_flight", "a submission is already in progress")
	}
	d := w.copyDraftLocked()
	if d.Step != StepBid {
		w.mu.Unlock()
		return models.Project{}, apperr.Validation("incomplete", "finish the earlier steps first")
	}
	if err := gateAll(d); err != nil {
		w.mu.Unlock()
		return models.Project{}, err
	}
	w.submitting = true
	w.mu.Unlock()

	created, err := sink.CreateProject(ctx, buildProject(d, clientID))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	if err != nil {
		return models.Project{}, err
	}
	w.d = Draft{Step: StepService}
	return created, nil
}

func buildProject(d Draft, clientID models.ID) models.Project {
	tl := d.Timeline
	if tl == "" {
		tl = models.TimelineFlexible
	}
	return models.Project{
		ClientID:    clientID,
		Title:       Title(d.Category, d.Tier),
		Category:    d.Category,
		Package:     d.Tier,
		Description: strings.TrimSpace(d.Description),
		Budget:      *d.Budget,
		Timeline:    tl,
		Status:      models.ProjectOpen,
		CreatedAt:   time.Now().UTC(),
	}
}

// gate validates the current step only.
func gate(d Draft) error {
	switch d.Step {
	case StepService:
		if d.Category == "" {
			return apperr.Validation("service_required", "select a service")
		}
	case StepScope:
		if d.Tier == "" {
			return apperr.Validation("package_required", "select a package")
		}
		if strings.TrimSpace(d.Description) == "" {
			return apperr.Validation("description_required", "describe the project")
		}
	case StepBid:
		if d.Budget == nil {
			return apperr.Validation("budget_required", "enter a budget")
		}
	}
	return nil
}

// gateAll re-checks every step. Fields of earlier steps stay editable after advancing.
func gateAll(d Draft) error {
	for step := StepService; step <= StepBid; step++ {
		d.Step = step
		if err := gate(d); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wizard) edit(fn func(*Draft)) error {
	return w.editErr(func(d *Draft) error { fn(d); return nil })
}

func (w *Wizard) editErr(fn func(*Draft) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return apperr.Conflict("submit_in_flight", "a submission is already in progress")
	}
	d := w.copyDraftLocked()
	if err := fn(&d); err != nil {
		return err
	}
	w.d = d
	return nil
}

func (w *Wizard) copyDraftLocked() Draft {
	d := w.d
	if d.Budget != nil {
		b := *d.Budget
		d.Budget = &b
	}
	return d
}

func (w *Wizard) snapshotLocked() Snapshot {
	d := w.copyDraftLocked()
	s := Snapshot{
		Draft:      d,
		Submitting: w.submitting,
		CanBack:    d.Step > StepService && !w.submitting,
		CanAdvance: d.Step < StepBid && gate(d) == nil && !w.submitting,
	}
	if s.Timeline == "" {
		s.Timeline = models.TimelineFlexible
	}
	if d.Budget != nil {
		switch {
		case *d.Budget < w.th.Low:
			s.BudgetHint = HintLow
		case *d.Budget >= w.th.Match:
			s.BudgetHint = HintMatch
		}
	}
	return s
}
