// Package listing is the client dashboard and the marketer feed: one view, configured
// by role and by where its rows come from.
package listing

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bidmarket/internal/apperr"
	"bidmarket/internal/localcache"
	"bidmarket/internal/metrics"
	"bidmarket/internal/models"
)

type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceMerged Source = "merged"
)

func ParseSource(s string) (Source, bool) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceLocal, SourceRemote, SourceMerged:
		return src, true
	case "":
		return SourceMerged, true
	}
	return "", false
}

// Remote is the part of the table store a view reads and writes.
type Remote interface {
	ListProjectsByClient(ctx context.Context, clientID models.ID) ([]models.Project, error)
	ListOpenProjects(ctx context.Context) ([]models.Project, error)
	ListProposalsByProjects(ctx context.Context, projectIDs []models.ID) ([]models.Proposal, error)
	InsertProject(ctx context.Context, p models.Project) (models.Project, error)
	InsertProposal(ctx context.Context, p models.Proposal) (models.Proposal, error)
	UpdateProjectStatus(ctx context.Context, id models.ID, status models.ProjectStatus) error
	UpdateProposalStatus(ctx context.Context, id models.ID, status models.ProposalStatus) error
}

type Deps struct {
	// Remote returns a store bound to the current user's token.
	Remote  func() (Remote, error)
	Pending *localcache.Pending
	Logger  *zap.SugaredLogger
}

// Viewer is who is looking. MinPrice only matters for the marketer feed.
type Viewer struct {
	UserID   models.ID
	MinPrice float64
}

type Item struct {
	models.Project
	Match    Match `json:"match,omitempty"`
	Muted    bool  `json:"muted"`
	CanClaim bool  `json:"can_claim"`
}

type Result struct {
	Role      models.Role       `json:"role"`
	Source    Source            `json:"source"`
	MinPrice  float64           `json:"min_price,omitempty"`
	Items     []Item            `json:"items"`
	Proposals []models.Proposal `json:"proposals,omitempty"`
}

type View struct {
	role   models.Role
	source Source
	deps   Deps
	lg     *zap.SugaredLogger

	mu        sync.Mutex
	loaded    bool
	viewer    Viewer
	items     []Item
	proposals []models.Proposal
}

func NewView(role models.Role, source Source, deps Deps) *View {
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &View{role: role, source: source, deps: deps, lg: lg.With("view", string(role))}
}

func (v *View) Role() models.Role { return v.role }

func (v *View) Source() Source { return v.source }

// WithSource returns a view over the same data reading from another source.
func (v *View) WithSource(s Source) *View {
	if s == v.source {
		return v
	}
	return NewView(v.role, s, v.deps)
}

func (v *View) usesLocal() bool  { return v.source != SourceRemote }
func (v *View) usesRemote() bool { return v.source != SourceLocal }

// Load fetches, merges and classifies. Local pending entries come first; local entries the
// remote store already has are dropped and pruned from the cache.
func (v *View) Load(ctx context.Context, who Viewer) (Result, error) {
	var (
		local, remote []models.Project
		props         []models.Proposal
		rs            Remote
		err           error
	)
	if v.usesRemote() {
		if rs, err = v.deps.Remote(); err != nil {
			return Result{}, err
		}
	}
	if v.usesLocal() {
		if local, err = v.deps.Pending.Projects(ctx); err != nil {
			return Result{}, apperr.New(apperr.KindInternal, "cache_read_failed", "local cache unavailable", err)
		}
		if v.role == models.RoleClient {
			local = ownedBy(local, who.UserID)
		}
	}
	if rs != nil {
		if v.role == models.RoleClient {
			remote, err = rs.ListProjectsByClient(ctx, who.UserID)
		} else {
			remote, err = rs.ListOpenProjects(ctx)
		}
		if err != nil {
			return Result{}, err
		}
	}

	onRemote := make(map[models.ID]bool, len(remote))
	for _, p := range remote {
		onRemote[p.ID] = true
	}
	var stale map[models.ID]bool
	merged := make([]models.Project, 0, len(local)+len(remote))
	for _, p := range local {
		if onRemote[p.ID] {
			if stale == nil {
				stale = map[models.ID]bool{}
			}
			stale[p.ID] = true
			continue
		}
		// A cached remote row the query did not return has moved on remotely.
		if rs != nil && p.Origin == models.OriginRemote {
			continue
		}
		merged = append(merged, p)
	}
	merged = append(merged, remote...)
	if len(stale) > 0 {
		if err := v.deps.Pending.PruneProjects(ctx, stale); err != nil {
			v.lg.Warnw("prune reconciled projects failed", "error", err)
		}
	}

	if props, err = v.loadProposals(ctx, rs, who, merged); err != nil {
		return Result{}, err
	}

	items := make([]Item, 0, len(merged))
	counts := countByProject(props)
	for _, p := range merged {
		it := Item{Project: p}
		it.ProposalsCount = counts[p.ID]
		if v.role == models.RoleMarketer {
			it.Match = Classify(p.Budget, who.MinPrice)
			it.Muted = it.Match == MatchNone
			it.CanClaim = !it.Muted && (p.Status == models.ProjectOpen || p.Status == "")
		}
		items = append(items, it)
	}

	v.mu.Lock()
	v.loaded, v.viewer, v.items, v.proposals = true, who, items, props
	res := v.resultLocked()
	v.mu.Unlock()
	return res, nil
}

func (v *View) loadProposals(ctx context.Context, rs Remote, who Viewer, projects []models.Project) ([]models.Proposal, error) {
	var local []models.Proposal
	if v.usesLocal() {
		var err error
		if local, err = v.deps.Pending.Proposals(ctx); err != nil {
			return nil, apperr.New(apperr.KindInternal, "cache_read_failed", "local cache unavailable", err)
		}
	}
	var ids []models.ID
	if v.role == models.RoleClient {
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
	} else {
		local = byMarketer(local, who.UserID)
		seen := map[models.ID]bool{}
		for _, p := range local {
			if !seen[p.ProjectID] {
				seen[p.ProjectID] = true
				ids = append(ids, p.ProjectID)
			}
		}
	}

	var remote []models.Proposal
	if rs != nil && len(ids) > 0 {
		var err error
		if remote, err = rs.ListProposalsByProjects(ctx, ids); err != nil {
			return nil, err
		}
		if v.role == models.RoleMarketer {
			remote = byMarketer(remote, who.UserID)
		}
	}

	onRemote := make(map[models.ID]bool, len(remote))
	for _, p := range remote {
		onRemote[p.ID] = true
	}
	stale := map[models.ID]bool{}
	out := make([]models.Proposal, 0, len(local)+len(remote))
	for _, p := range local {
		if onRemote[p.ID] {
			stale[p.ID] = true
			continue
		}
		if rs != nil && p.Origin == models.OriginRemote {
			continue
		}
		out = append(out, p)
	}
	out = append(out, remote...)
	if len(stale) > 0 {
		if err := v.deps.Pending.PruneProposals(ctx, stale); err != nil {
			v.lg.Warnw("prune reconciled proposals failed", "error", err)
		}
	}
	return out, nil
}

// Snapshot returns the last loaded result without fetching.
func (v *View) Snapshot() (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resultLocked(), v.loaded
}

func (v *View) ensure(ctx context.Context, who Viewer) error {
	v.mu.Lock()
	fresh := v.loaded && v.viewer == who
	v.mu.Unlock()
	if fresh {
		return nil
	}
	_, err := v.Load(ctx, who)
	return err
}

// ProposalsFor lists the proposals of one project, newest local first.
func (v *View) ProposalsFor(ctx context.Context, who Viewer, projectID models.ID) ([]models.Proposal, error) {
	if err := v.ensure(ctx, who); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.itemLocked(projectID); !ok {
		return nil, apperr.NotFound("project not found")
	}
	out := []models.Proposal{}
	for _, p := range v.proposals {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	return out, nil
}

// AcceptProposal moves the proposal to accepted and its project to in_progress. Both
// updates run together; if either fails the call fails and says which side did.
func (v *View) AcceptProposal(ctx context.Context, who Viewer, proposalID models.ID, confirmed bool) (Result, error) {
	if !confirmed {
		return Result{}, apperr.Validation("confirmation_required", "accepting a proposal must be confirmed")
	}
	if err := v.ensure(ctx, who); err != nil {
		return Result{}, err
	}
	v.mu.Lock()
	prop, ok := v.proposalLocked(proposalID)
	var proj Item
	if ok {
		proj, ok = v.itemLocked(prop.ProjectID)
	}
	v.mu.Unlock()
	if !ok {
		return Result{}, apperr.NotFound("proposal not found")
	}
	if prop.Status == models.ProposalAccepted {
		return Result{}, apperr.Conflict("already_accepted", "proposal already accepted")
	}

	var rs Remote
	if proj.Origin != models.OriginLocal || prop.Origin != models.OriginLocal {
		var err error
		if rs, err = v.deps.Remote(); err != nil {
			return Result{}, err
		}
	}
	pending := v.deps.Pending

	var projErr, propErr error
	var g errgroup.Group
	g.Go(func() error {
		if proj.Origin == models.OriginLocal {
			projErr = pending.SetProjectStatus(ctx, proj.ID, models.ProjectInProgress)
		} else {
			projErr = rs.UpdateProjectStatus(ctx, proj.ID, models.ProjectInProgress)
		}
		return projErr
	})
	g.Go(func() error {
		if prop.Origin == models.OriginLocal {
			propErr = pending.SetProposalStatus(ctx, prop.ID, models.ProposalAccepted)
		} else {
			propErr = rs.UpdateProposalStatus(ctx, prop.ID, models.ProposalAccepted)
		}
		return propErr
	})
	_ = g.Wait()

	switch {
	case projErr != nil && propErr != nil:
		metrics.ListingActions.WithLabelValues("accept", "failed").Inc()
		return Result{}, apperr.Transient("accepting the proposal failed", errors.Join(projErr, propErr))
	case projErr != nil:
		metrics.ListingActions.WithLabelValues("accept", "partial").Inc()
		v.lg.Errorw("accept partially applied", "project_id", proj.ID, "proposal_id", prop.ID, "error", projErr)
		return Result{}, apperr.Partial("accept_partial", "proposal was accepted but the project status was not updated", projErr)
	case propErr != nil:
		metrics.ListingActions.WithLabelValues("accept", "partial").Inc()
		v.lg.Errorw("accept partially applied", "project_id", proj.ID, "proposal_id", prop.ID, "error", propErr)
		return Result{}, apperr.Partial("accept_partial", "project moved to in progress but the proposal was not accepted", propErr)
	}
	metrics.ListingActions.WithLabelValues("accept", "ok").Inc()

	if proj.Origin != models.OriginLocal {
		if err := pending.SetProjectStatus(ctx, proj.ID, models.ProjectInProgress); err != nil {
			v.lg.Warnw("mirror project status to cache failed", "project_id", proj.ID, "error", err)
		}
	}
	if prop.Origin != models.OriginLocal {
		if err := pending.SetProposalStatus(ctx, prop.ID, models.ProposalAccepted); err != nil {
			v.lg.Warnw("mirror proposal status to cache failed", "proposal_id", prop.ID, "error", err)
		}
	}
	return v.reload(ctx, who)
}

// ClaimBid hides the listing at once, then marks the project pending. If that fails the
// listing is put back where it was and the error says remote state may be inconsistent.
func (v *View) ClaimBid(ctx context.Context, who Viewer, projectID models.ID) (Result, error) {
	if err := v.ensure(ctx, who); err != nil {
		return Result{}, err
	}
	v.mu.Lock()
	idx := -1
	for i, it := range v.items {
		if it.ID == projectID {
			idx = i
			break
		}
	}
	if idx < 0 {
		v.mu.Unlock()
		return Result{}, apperr.NotFound("listing not found")
	}
	it := v.items[idx]
	if !it.CanClaim {
		v.mu.Unlock()
		return Result{}, apperr.Validation("not_claimable", "this listing cannot be claimed")
	}
	v.items = append(v.items[:idx:idx], v.items[idx+1:]...)
	v.mu.Unlock()

	var err error
	if it.Origin == models.OriginLocal {
		err = v.deps.Pending.SetProjectStatus(ctx, it.ID, models.ProjectPending)
	} else {
		var rs Remote
		if rs, err = v.deps.Remote(); err == nil {
			err = rs.UpdateProjectStatus(ctx, it.ID, models.ProjectPending)
		}
	}
	if err != nil {
		v.mu.Lock()
		if _, present := v.itemLocked(it.ID); !present {
			at := idx
			if at > len(v.items) {
				at = len(v.items)
			}
			v.items = append(v.items[:at], append([]Item{it}, v.items[at:]...)...)
		}
		v.mu.Unlock()
		metrics.ListingActions.WithLabelValues("claim", "rolled_back").Inc()
		v.lg.Warnw("claim failed, listing restored", "project_id", it.ID, "error", err)
		return Result{}, apperr.New(apperr.KindTransient, "claim_failed",
			"claiming the listing failed; remote state may be inconsistent, refresh to reconcile", err)
	}
	metrics.ListingActions.WithLabelValues("claim", "ok").Inc()
	return v.reload(ctx, who)
}

// SubmitProposal bids on a listing. A nil amount means the listing budget.
func (v *View) SubmitProposal(ctx context.Context, who Viewer, projectID models.ID, amount *float64, pitch string) (models.Proposal, error) {
	if err := v.ensure(ctx, who); err != nil {
		return models.Proposal{}, err
	}
	v.mu.Lock()
	it, ok := v.itemLocked(projectID)
	v.mu.Unlock()
	if !ok {
		return models.Proposal{}, apperr.NotFound("listing not found")
	}
	if it.Muted {
		return models.Proposal{}, apperr.Validation("not_claimable", "budget is below your minimum price")
	}
	amt := it.Budget
	if amount != nil {
		amt = *amount
	}
	if math.IsNaN(amt) || math.IsInf(amt, 0) || amt <= 0 {
		return models.Proposal{}, apperr.Validation("invalid_amount", "amount must be a positive number")
	}
	pitch = strings.TrimSpace(pitch)
	if pitch == "" {
		return models.Proposal{}, apperr.Validation("pitch_required", "write a short pitch")
	}

	p := models.Proposal{
		ProjectID:    it.ID,
		ProjectTitle: it.Title,
		MarketerID:   who.UserID,
		MarketerRole: models.RoleMarketer,
		Amount:       amt,
		Pitch:        pitch,
		Status:       models.ProposalOpen,
		CreatedAt:    time.Now().UTC(),
	}
	if it.Origin == models.OriginLocal || !v.usesRemote() {
		p.ID = models.ID(uuid.NewString())
	} else {
		rs, err := v.deps.Remote()
		if err != nil {
			return models.Proposal{}, err
		}
		if p, err = rs.InsertProposal(ctx, p); err != nil {
			metrics.ListingActions.WithLabelValues("propose", "failed").Inc()
			return models.Proposal{}, err
		}
		p.Origin = models.OriginRemote
	}
	if err := v.deps.Pending.AddProposal(ctx, p); err != nil {
		v.lg.Warnw("cache proposal failed", "proposal_id", p.ID, "error", err)
	}
	metrics.ListingActions.WithLabelValues("propose", "ok").Inc()
	v.invalidate()
	return p, nil
}

// CreateProject inserts a wizard project remotely, then caches the returned row. Cached
// remote rows keep their origin so later status changes go to the remote store.
func (v *View) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	if v.usesRemote() {
		rs, err := v.deps.Remote()
		if err != nil {
			return models.Project{}, err
		}
		if p, err = rs.InsertProject(ctx, p); err != nil {
			metrics.ListingActions.WithLabelValues("submit", "failed").Inc()
			return models.Project{}, err
		}
		p.Origin = models.OriginRemote
	} else {
		p.ID = models.ID(uuid.NewString())
	}
	if err := v.deps.Pending.AddProject(ctx, p); err != nil {
		v.lg.Warnw("cache project failed", "project_id", p.ID, "error", err)
	}
	metrics.ListingActions.WithLabelValues("submit", "ok").Inc()
	v.invalidate()
	return p, nil
}

func (v *View) reload(ctx context.Context, who Viewer) (Result, error) {
	res, err := v.Load(ctx, who)
	if err != nil {
		v.lg.Warnw("refresh after mutation failed", "error", err)
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.resultLocked(), nil
	}
	return res, nil
}

func (v *View) invalidate() {
	v.mu.Lock()
	v.loaded = false
	v.mu.Unlock()
}

func (v *View) itemLocked(id models.ID) (Item, bool) {
	for _, it := range v.items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

func (v *View) proposalLocked(id models.ID) (models.Proposal, bool) {
	for _, p := range v.proposals {
		if p.ID == id {
			return p, true
		}
	}
	return models.Proposal{}, false
}

func (v *View) resultLocked() Result {
	res := Result{
		Role:      v.role,
		Source:    v.source,
		Items:     append([]Item{}, v.items...),
		Proposals: append([]models.Proposal(nil), v.proposals...),
	}
	if v.role == models.RoleMarketer {
		res.MinPrice = v.viewer.MinPrice
	}
	return res
}

func countByProject(props []models.Proposal) map[models.ID]int {
	out := make(map[models.ID]int, len(props))
	for _, p := range props {
		out[p.ProjectID]++
	}
	return out
}

func ownedBy(ps []models.Project, clientID models.ID) []models.Project {
	out := ps[:0]
	for _, p := range ps {
		if p.ClientID.IsZero() || p.ClientID == clientID {
			out = append(out, p)
		}
	}
	return out
}

func byMarketer(ps []models.Proposal, marketerID models.ID) []models.Proposal {
	out := make([]models.Proposal, 0, len(ps))
	for _, p := range ps {
		if p.MarketerID.IsZero() || p.MarketerID == marketerID {
			out = append(out, p)
		}
	}
	return out
}
