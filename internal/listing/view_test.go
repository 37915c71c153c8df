package listing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"bidmarket/internal/apperr"
	"bidmarket/internal/localcache"
	"bidmarket/internal/models"
)

type fakeRemote struct {
	mu        sync.Mutex
	projects  []models.Project
	proposals []models.Proposal

	projectErr  error
	proposalErr error
	insertErr   error

	projectUpdates  map[models.ID]models.ProjectStatus
	proposalUpdates map[models.ID]models.ProposalStatus

	// onUpdate runs once, unlocked, at the start of the next project status update.
	onUpdate func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		projectUpdates:  map[models.ID]models.ProjectStatus{},
		proposalUpdates: map[models.ID]models.ProposalStatus{},
	}
}

func (f *fakeRemote) ListProjectsByClient(_ context.Context, clientID models.ID) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Project
	for _, p := range f.projects {
		if p.ClientID == clientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRemote) ListOpenProjects(context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Project
	for _, p := range f.projects {
		if p.Status == models.ProjectOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRemote) ListProposalsByProjects(_ context.Context, ids []models.ID) ([]models.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[models.ID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Proposal
	for _, p := range f.proposals {
		if want[p.ProjectID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRemote) InsertProject(_ context.Context, p models.Project) (models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return models.Project{}, f.insertErr
	}
	p.ID = models.ParseID(100 + len(f.projects))
	p.Origin = models.OriginRemote
	f.projects = append(f.projects, p)
	return p, nil
}

func (f *fakeRemote) InsertProposal(_ context.Context, p models.Proposal) (models.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return models.Proposal{}, f.insertErr
	}
	p.ID = models.ParseID(500 + len(f.proposals))
	f.proposals = append(f.proposals, p)
	return p, nil
}

func (f *fakeRemote) UpdateProjectStatus(_ context.Context, id models.ID, s models.ProjectStatus) error {
	if hook := f.onUpdate; hook != nil {
		f.onUpdate = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.projectErr != nil {
		return f.projectErr
	}
	f.projectUpdates[id] = s
	for i := range f.projects {
		if f.projects[i].ID == id {
			f.projects[i].Status = s
		}
	}
	return nil
}

func (f *fakeRemote) UpdateProposalStatus(_ context.Context, id models.ID, s models.ProposalStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proposalErr != nil {
		return f.proposalErr
	}
	f.proposalUpdates[id] = s
	for i := range f.proposals {
		if f.proposals[i].ID == id {
			f.proposals[i].Status = s
		}
	}
	return nil
}

func newView(t *testing.T, role models.Role, rs *fakeRemote) (*View, *localcache.Pending) {
	t.Helper()
	pending := localcache.NewPending(localcache.NewBucket(localcache.NewMemory(), "dev-1"))
	v := NewView(role, SourceMerged, Deps{
		Remote:  func() (Remote, error) { return rs, nil },
		Pending: pending,
	})
	return v, pending
}

func decodeProject(t *testing.T, raw string) models.Project {
	t.Helper()
	var p models.Project
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	p.Origin = models.OriginRemote
	return p
}

func TestProposalCountToleratesIDEncoding(t *testing.T) {
	for _, raw := range []string{
		`{"id": 7, "client_id": "c1", "title": "numeric id", "status": "open"}`,
		`{"id": "7", "client_id": "c1", "title": "string id", "status": "open"}`,
	} {
		rs := newFakeRemote()
		rs.projects = []models.Project{decodeProject(t, raw)}
		for _, pr := range []string{
			`{"id": 1, "project_id": "7", "status": "open"}`,
			`{"id": 2, "project_id": 7, "status": "open"}`,
			`{"id": 3, "project_id": "07", "status": "open"}`,
			`{"id": 4, "project_id": "8", "status": "open"}`,
		} {
			var p models.Proposal
			require.NoError(t, json.Unmarshal([]byte(pr), &p))
			rs.proposals = append(rs.proposals, p)
		}

		v, _ := newView(t, models.RoleClient, rs)
		res, err := v.Load(context.Background(), Viewer{UserID: "c1"})
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, 3, res.Items[0].ProposalsCount, raw)
	}
}

func TestLocalEntriesFirstAndReconciled(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	rs.projects = []models.Project{{ID: "1", ClientID: "c1", Status: models.ProjectOpen, Origin: models.OriginRemote}}
	v, pending := newView(t, models.RoleClient, rs)

	require.NoError(t, pending.AddProject(ctx, models.Project{ID: "1", ClientID: "c1"}))
	require.NoError(t, pending.AddProject(ctx, models.Project{ID: "local-2", ClientID: "c1"}))
	require.NoError(t, pending.AddProject(ctx, models.Project{ID: "other", ClientID: "c2"}))

	res, err := v.Load(ctx, Viewer{UserID: "c1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, models.ID("local-2"), res.Items[0].ID)
	assert.Equal(t, models.OriginLocal, res.Items[0].Origin)
	assert.Equal(t, models.ID("1"), res.Items[1].ID)
	assert.Equal(t, models.OriginRemote, res.Items[1].Origin)

	left, err := pending.Projects(ctx)
	require.NoError(t, err)
	for _, p := range left {
		assert.NotEqual(t, models.ID("1"), p.ID, "reconciled entry pruned")
	}
}

func TestFeedClassification(t *testing.T) {
	rs := newFakeRemote()
	for _, b := range []struct {
		id     models.ID
		budget float64
	}{{"a", 2000}, {"b", 1700}, {"c", 1699}} {
		rs.projects = append(rs.projects, models.Project{ID: b.id, Budget: b.budget, Status: models.ProjectOpen, Origin: models.OriginRemote})
	}
	v, _ := newView(t, models.RoleMarketer, rs)
	res, err := v.Load(context.Background(), Viewer{UserID: "m1", MinPrice: 2000})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)

	got := map[models.ID]Item{}
	for _, it := range res.Items {
		got[it.ID] = it
	}
	assert.Equal(t, MatchPerfect, got["a"].Match)
	assert.Equal(t, MatchGap, got["b"].Match)
	assert.True(t, got["b"].CanClaim)
	assert.Equal(t, MatchNone, got["c"].Match)
	assert.True(t, got["c"].Muted)
	assert.False(t, got["c"].CanClaim)

	_, err = v.ClaimBid(context.Background(), Viewer{UserID: "m1", MinPrice: 2000}, "c")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func clientWithProposal(t *testing.T) (*View, *fakeRemote) {
	rs := newFakeRemote()
	rs.projects = []models.Project{{ID: "7", ClientID: "c1", Status: models.ProjectOpen, Origin: models.OriginRemote}}
	rs.proposals = []models.Proposal{{ID: "p1", ProjectID: "7", Status: models.ProposalOpen}}
	v, _ := newView(t, models.RoleClient, rs)
	_, err := v.Load(context.Background(), Viewer{UserID: "c1"})
	require.NoError(t, err)
	return v, rs
}

func TestAcceptRequiresConfirmation(t *testing.T) {
	v, rs := clientWithProposal(t)
	_, err := v.AcceptProposal(context.Background(), Viewer{UserID: "c1"}, "p1", false)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Empty(t, rs.projectUpdates)
	assert.Empty(t, rs.proposalUpdates)
}

func TestAcceptUpdatesBoth(t *testing.T) {
	v, rs := clientWithProposal(t)
	res, err := v.AcceptProposal(context.Background(), Viewer{UserID: "c1"}, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectInProgress, rs.projectUpdates["7"])
	assert.Equal(t, models.ProposalAccepted, rs.proposalUpdates["p1"])
	require.Len(t, res.Items, 1)
	assert.Equal(t, models.ProjectInProgress, res.Items[0].Status)
}

func TestAcceptReportsPartialFailure(t *testing.T) {
	v, rs := clientWithProposal(t)
	rs.proposalErr = apperr.Transient("proposal update failed", errors.New("503"))

	res, err := v.AcceptProposal(context.Background(), Viewer{UserID: "c1"}, "p1", true)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPartial))
	assert.Empty(t, res.Items, "no success result on failure")
	assert.Equal(t, models.ProjectInProgress, rs.projectUpdates["7"])
	assert.Empty(t, rs.proposalUpdates)
}

func TestAcceptBothFailIsNotPartial(t *testing.T) {
	v, rs := clientWithProposal(t)
	rs.projectErr = errors.New("down")
	rs.proposalErr = errors.New("down")
	_, err := v.AcceptProposal(context.Background(), Viewer{UserID: "c1"}, "p1", true)
	assert.True(t, apperr.IsKind(err, apperr.KindTransient))
}

func TestClaimRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	rs.projects = []models.Project{
		{ID: "1", Budget: 3000, Status: models.ProjectOpen, Origin: models.OriginRemote},
		{ID: "2", Budget: 3000, Status: models.ProjectOpen, Origin: models.OriginRemote},
		{ID: "3", Budget: 3000, Status: models.ProjectOpen, Origin: models.OriginRemote},
	}
	rs.projectErr = errors.New("timeout")
	v, _ := newView(t, models.RoleMarketer, rs)
	who := Viewer{UserID: "m1", MinPrice: 1000}
	_, err := v.Load(ctx, who)
	require.NoError(t, err)

	_, err = v.ClaimBid(ctx, who, "2")
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "claim_failed", ae.Code)
	assert.Contains(t, ae.Message, "inconsistent")

	snap, _ := v.Snapshot()
	require.Len(t, snap.Items, 3)
	assert.Equal(t, models.ID("2"), snap.Items[1].ID, "restored at its original position")
}

func TestClaimRemovesListing(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	rs.projects = []models.Project{{ID: "1", Budget: 3000, Status: models.ProjectOpen, Origin: models.OriginRemote}}
	v, _ := newView(t, models.RoleMarketer, rs)
	who := Viewer{UserID: "m1"}

	res, err := v.ClaimBid(ctx, who, "1")
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, models.ProjectPending, rs.projectUpdates["1"])
}

func TestSubmitProposalDefaultsToBudget(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	rs.projects = []models.Project{{ID: "9", Title: "SEO revamp", Budget: 4200, Status: models.ProjectOpen, Origin: models.OriginRemote}}
	v, pending := newView(t, models.RoleMarketer, rs)
	who := Viewer{UserID: "m1", MinPrice: 1000}

	p, err := v.SubmitProposal(ctx, who, "9", nil, "  I can help  ")
	require.NoError(t, err)
	assert.Equal(t, 4200.0, p.Amount)
	assert.Equal(t, "I can help", p.Pitch)
	assert.Equal(t, "SEO revamp", p.ProjectTitle)
	assert.Equal(t, models.RoleMarketer, p.MarketerRole)

	cached, err := pending.Proposals(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, p.ID, cached[0].ID)

	_, err = v.SubmitProposal(ctx, who, "9", nil, "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	res, err := v.Load(ctx, who)
	require.NoError(t, err)
	require.Len(t, res.Proposals, 1, "remote copy replaces the pending one")
	left, err := pending.Proposals(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCreateProjectInsertsThenCaches(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	v, pending := newView(t, models.RoleClient, rs)

	created, err := v.CreateProject(ctx, models.Project{ClientID: "c1", Title: "t", Budget: 1500, Status: models.ProjectOpen})
	require.NoError(t, err)
	assert.False(t, created.ID.IsZero())

	cached, err := pending.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, created.ID, cached[0].ID)

	rs.insertErr = apperr.Transient("insert failed", nil)
	_, err = v.CreateProject(ctx, models.Project{ClientID: "c1"})
	require.Error(t, err)
	cached, err = pending.Projects(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 1, "nothing cached when the insert fails")
}

func TestLocalSourceNeverCallsRemote(t *testing.T) {
	ctx := context.Background()
	pending := localcache.NewPending(localcache.NewBucket(localcache.NewMemory(), "dev-1"))
	require.NoError(t, pending.AddProject(ctx, models.Project{ID: "l1", ClientID: "c1"}))
	v := NewView(models.RoleClient, SourceLocal, Deps{
		Remote: func() (Remote, error) {
			t.Fatal("remote used by a local view")
			return nil, nil
		},
		Pending: pending,
	})
	res, err := v.Load(ctx, Viewer{UserID: "c1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, SourceLocal, res.Source)
}

func TestCachedRemoteProjectClaimedElsewhereLeavesFeed(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	pending := localcache.NewPending(localcache.NewBucket(localcache.NewMemory(), "dev-1"))
	deps := Deps{Remote: func() (Remote, error) { return rs, nil }, Pending: pending}
	client := NewView(models.RoleClient, SourceMerged, deps)
	feed := NewView(models.RoleMarketer, SourceMerged, deps)

	created, err := client.CreateProject(ctx, models.Project{ClientID: "c1", Title: "t", Budget: 1500, Status: models.ProjectOpen})
	require.NoError(t, err)
	cached, err := pending.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, models.OriginRemote, cached[0].Origin)

	require.NoError(t, rs.UpdateProjectStatus(ctx, created.ID, models.ProjectPending))
	delete(rs.projectUpdates, created.ID)

	who := Viewer{UserID: "m1", MinPrice: 1000}
	res, err := feed.Load(ctx, who)
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	_, err = feed.ClaimBid(ctx, who, created.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Empty(t, rs.projectUpdates)
}

func TestCachedRemoteProjectClaimGoesRemote(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	pending := localcache.NewPending(localcache.NewBucket(localcache.NewMemory(), "dev-1"))
	require.NoError(t, pending.AddProject(ctx, models.Project{ID: "42", Budget: 3000, Status: models.ProjectOpen, Origin: models.OriginRemote}))
	v := NewView(models.RoleMarketer, SourceLocal, Deps{Remote: func() (Remote, error) { return rs, nil }, Pending: pending})
	who := Viewer{UserID: "m1", MinPrice: 1000}

	res, err := v.Load(ctx, who)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	_, err = v.ClaimBid(ctx, who, "42")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectPending, rs.projectUpdates["42"])
}

func TestClaimRollbackDoesNotDuplicateReloadedListing(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	rs.projects = []models.Project{
		{ID: "1", Budget: 3000, Status: models.ProjectOpen, Origin: models.OriginRemote},
		{ID: "2", Budget: 3000, Status: models.ProjectOpen, Origin: models.OriginRemote},
	}
	v, _ := newView(t, models.RoleMarketer, rs)
	who := Viewer{UserID: "m1", MinPrice: 1000}
	_, err := v.Load(ctx, who)
	require.NoError(t, err)

	// A reload lands while the claim update is failing.
	rs.projectErr = errors.New("timeout")
	rs.onUpdate = func() {
		_, lerr := v.Load(ctx, who)
		require.NoError(t, lerr)
	}
	_, err = v.ClaimBid(ctx, who, "2")
	require.Error(t, err)

	snap, _ := v.Snapshot()
	require.Len(t, snap.Items, 2)
	assert.Equal(t, models.ID("1"), snap.Items[0].ID)
	assert.Equal(t, models.ID("2"), snap.Items[1].ID)
}

type brokenStore struct {
	*localcache.Memory
	failSets bool
}

func (b *brokenStore) Set(ctx context.Context, ns, key string, value []byte) error {
	if b.failSets {
		return errors.New("disk full")
	}
	return b.Memory.Set(ctx, ns, key, value)
}

func TestAcceptLogsCacheMirrorFailure(t *testing.T) {
	ctx := context.Background()
	rs := newFakeRemote()
	rs.projects = []models.Project{{ID: "7", ClientID: "c1", Status: models.ProjectOpen, Origin: models.OriginRemote}}
	rs.proposals = []models.Proposal{{ID: "p1", ProjectID: "7", Status: models.ProposalOpen}}
	store := &brokenStore{Memory: localcache.NewMemory()}
	core, logs := observer.New(zapcore.WarnLevel)
	v := NewView(models.RoleClient, SourceMerged, Deps{
		Remote:  func() (Remote, error) { return rs, nil },
		Pending: localcache.NewPending(localcache.NewBucket(store, "dev-1")),
		Logger:  zap.New(core).Sugar(),
	})
	who := Viewer{UserID: "c1"}
	_, err := v.Load(ctx, who)
	require.NoError(t, err)

	store.failSets = true
	_, err = v.AcceptProposal(ctx, who, "p1", true)
	require.NoError(t, err, "the remote accept stands")
	assert.Equal(t, 1, logs.FilterMessage("mirror project status to cache failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("mirror proposal status to cache failed").Len())
}
