// Package app holds the per-browser environment: the auth session, the role resolver
// that is its only writer, the wizard and the listing views. Handlers read from it.
package app

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bidmarket/internal/activity"
	"bidmarket/internal/apperr"
	"bidmarket/internal/backend"
	"bidmarket/internal/listing"
	"bidmarket/internal/localcache"
	"bidmarket/internal/models"
	"bidmarket/internal/session"
	"bidmarket/internal/wizard"
)

type Deps struct {
	Backend    *backend.Client
	Cache      localcache.Store
	Activity   activity.Recorder
	Logger     *zap.SugaredLogger
	Resolver   session.Options
	Thresholds wizard.Thresholds
	// MinPrice applies to marketers whose profile has none.
	MinPrice float64
}

type Env struct {
	ID       string
	DeviceID string

	Auth     *backend.AuthSession
	Resolver *session.Resolver
	Wizard   *wizard.Wizard
	Pending  *localcache.Pending
	Bucket   localcache.Bucket

	deps     *Deps
	lg       *zap.SugaredLogger
	client   *listing.View
	marketer *listing.View
	unsub    func()
	lastSeen atomic.Int64

	mu       sync.Mutex
	minPrice map[models.ID]float64
}

func newEnv(ctx context.Context, deps *Deps, id, deviceID string) *Env {
	lg := deps.Logger.With("env", id)
	bucket := localcache.NewBucket(deps.Cache, deviceID)
	e := &Env{
		ID:       id,
		DeviceID: deviceID,
		Auth:     deps.Backend.NewAuthSession(),
		Wizard:   wizard.New(deps.Thresholds),
		Pending:  localcache.NewPending(bucket),
		Bucket:   bucket,
		deps:     deps,
		lg:       lg,
		minPrice: map[models.ID]float64{},
	}
	e.restore(ctx)
	e.unsub = e.Auth.OnAuthStateChange(e.persistSession)

	e.Resolver = session.NewResolver(e.Auth, e.lookupRole, deps.Resolver, lg)
	vd := listing.Deps{Remote: e.remote, Pending: e.Pending, Logger: lg}
	e.client = listing.NewView(models.RoleClient, listing.SourceMerged, vd)
	e.marketer = listing.NewView(models.RoleMarketer, listing.SourceMerged, vd)
	e.Resolver.Start()
	e.touch()
	return e
}

func (e *Env) restore(ctx context.Context) {
	if raw, ok, err := e.Bucket.Get(ctx, localcache.KeyAuthSession); err != nil {
		e.lg.Warnw("read cached session failed", "error", err)
	} else if ok {
		var s models.Session
		if err := json.Unmarshal(raw, &s); err == nil && !s.UserID.IsZero() {
			e.Auth.Restore(&s)
		}
	}
	if raw, ok, err := e.Bucket.Get(ctx, localcache.KeyWizardDraft); err == nil && ok {
		var d wizard.Draft
		if err := json.Unmarshal(raw, &d); err == nil {
			e.Wizard.Restore(d)
		}
	}
}

func (e *Env) persistSession(ev backend.AuthEvent, s *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if ev == backend.EventSignedOut || s == nil {
		err = e.Bucket.Delete(ctx, localcache.KeyAuthSession)
	} else {
		var raw []byte
		if raw, err = json.Marshal(s); err == nil {
			err = e.Bucket.Set(ctx, localcache.KeyAuthSession, raw)
		}
	}
	if err != nil {
		e.lg.Warnw("persist auth session failed", "event", ev, "error", err)
	}
}

func (e *Env) lookupRole(ctx context.Context, s *models.Session) (models.Role, error) {
	if err := e.deps.Backend.Ready(); err != nil {
		return models.RoleNone, err
	}
	p, err := e.deps.Backend.Store(s.AccessToken).GetProfile(ctx, s.UserID)
	if err != nil {
		return models.RoleNone, err
	}
	if p.MinPrice > 0 {
		e.mu.Lock()
		e.minPrice[s.UserID] = p.MinPrice
		e.mu.Unlock()
	}
	return p.Role, nil
}

func (e *Env) remote() (listing.Remote, error) {
	s, err := e.store()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Env) store() (*backend.Store, error) {
	if err := e.deps.Backend.Ready(); err != nil {
		return nil, err
	}
	st := e.Resolver.State()
	if st.Session == nil {
		return nil, apperr.Unauthenticated("sign in required")
	}
	return e.deps.Backend.Store(st.Session.AccessToken), nil
}

func (e *Env) touch() { e.lastSeen.Store(time.Now().UnixNano()) }

func (e *Env) idleSince() time.Time { return time.Unix(0, e.lastSeen.Load()) }

// State waits for the resolver and refreshes an expired token before returning.
func (e *Env) State(ctx context.Context) (session.State, error) {
	st, err := e.Resolver.Ready(ctx)
	if err != nil {
		return st, apperr.Transient("session is still loading", err)
	}
	if st.Session != nil && st.Session.Expired(time.Now()) {
		if _, err := e.Auth.CurrentSession(ctx); err != nil {
			e.lg.Warnw("token refresh failed", "error", err)
		}
		if st, err = e.Resolver.Ready(ctx); err != nil {
			return st, apperr.Transient("session is still loading", err)
		}
	}
	return st, nil
}

// Viewer returns who is signed in, failing when nobody is or the role is unresolved.
func (e *Env) Viewer(ctx context.Context) (listing.Viewer, session.State, error) {
	st, err := e.State(ctx)
	if err != nil {
		return listing.Viewer{}, st, err
	}
	if !st.Authenticated() {
		return listing.Viewer{}, st, apperr.Unauthenticated("sign in required")
	}
	if !st.Role.Valid() {
		return listing.Viewer{}, st, apperr.Forbidden("role not found")
	}
	who := listing.Viewer{UserID: st.UserID()}
	if st.Role == models.RoleMarketer {
		who.MinPrice = e.MinPrice(st.UserID())
	}
	return who, st, nil
}

func (e *Env) MinPrice(userID models.ID) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.minPrice[userID]; ok {
		return v
	}
	return e.deps.MinPrice
}

func (e *Env) UpdateMinPrice(ctx context.Context, v float64) error {
	who, _, err := e.Viewer(ctx)
	if err != nil {
		return err
	}
	if v < 0 {
		return apperr.Validation("invalid_min_price", "minimum price must be non-negative")
	}
	s, err := e.store()
	if err != nil {
		return err
	}
	if err := s.UpdateMinPrice(ctx, who.UserID, v); err != nil {
		return err
	}
	e.mu.Lock()
	e.minPrice[who.UserID] = v
	e.mu.Unlock()
	e.Record(ctx, activity.ActionMinPriceUpdated, map[string]any{"min_price": v})
	return nil
}

// View returns the listing view for role reading from source.
func (e *Env) View(role models.Role, source listing.Source) *listing.View {
	v := e.client
	if role == models.RoleMarketer {
		v = e.marketer
	}
	return v.WithSource(source)
}

func (e *Env) SaveDraft(ctx context.Context) {
	raw, err := json.Marshal(e.Wizard.Draft())
	if err == nil {
		err = e.Bucket.Set(ctx, localcache.KeyWizardDraft, raw)
	}
	if err != nil {
		e.lg.Warnw("persist wizard draft failed", "error", err)
	}
}

// SubmitWizard posts the wizard project through the client view.
func (e *Env) SubmitWizard(ctx context.Context) (models.Project, error) {
	who, _, err := e.Viewer(ctx)
	if err != nil {
		return models.Project{}, err
	}
	p, err := e.Wizard.Submit(ctx, who.UserID, e.client)
	if err != nil {
		return models.Project{}, err
	}
	if err := e.Bucket.Delete(ctx, localcache.KeyWizardDraft); err != nil {
		e.lg.Warnw("clear wizard draft failed", "error", err)
	}
	e.Record(ctx, activity.ActionWizardSubmit, map[string]any{"project_id": p.ID, "budget": p.Budget})
	return p, nil
}

func (e *Env) SignIn(ctx context.Context, email, password string) (session.State, error) {
	if _, err := e.Auth.SignIn(ctx, email, password); err != nil {
		return session.State{}, err
	}
	st, err := e.State(ctx)
	if err == nil {
		e.Record(ctx, activity.ActionSignIn, nil)
	}
	return st, err
}

func (e *Env) SignUp(ctx context.Context, email, password string, role models.Role) (session.State, error) {
	s, err := e.Auth.SignUp(ctx, email, password, role)
	if err != nil {
		return session.State{}, err
	}
	if s == nil {
		return e.Resolver.State(), nil
	}
	st, err := e.State(ctx)
	if err == nil {
		e.Record(ctx, activity.ActionSignUp, map[string]any{"role": role})
	}
	return st, err
}

// SignOut ends the session and clears the device cache except the pending projects and proposals.
func (e *Env) SignOut(ctx context.Context) error {
	userID := e.Resolver.State().UserID()
	if err := e.Auth.SignOut(ctx); err != nil {
		e.lg.Warnw("remote sign out failed", "error", err)
	}
	e.Wizard.Reset()
	if !userID.IsZero() {
		e.deps.Activity.Record(ctx, userID, activity.ActionSignOut, nil)
	}
	if err := e.Bucket.ClearPreserving(ctx, localcache.KeyProjects, localcache.KeyProposals); err != nil {
		return apperr.New(apperr.KindInternal, "cache_clear_failed", "signed out but local data could not be cleared", err)
	}
	return nil
}

// Record appends to the activity log for the signed-in user, if any.
func (e *Env) Record(ctx context.Context, action string, meta map[string]any) {
	st := e.Resolver.State()
	if st.Session == nil {
		return
	}
	e.deps.Activity.Record(ctx, st.UserID(), action, meta)
}

func (e *Env) Close() {
	e.Resolver.Close()
	if e.unsub != nil {
		e.unsub()
	}
}
