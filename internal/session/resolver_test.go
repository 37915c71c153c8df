package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bidmarket/internal/apperr"
	"bidmarket/internal/backend"
	"bidmarket/internal/models"
)

type fakeProvider struct {
	mu       sync.Mutex
	sess     *models.Session
	err      error
	block    chan struct{}
	listener backend.AuthListener
}

func (f *fakeProvider) CurrentSession(ctx context.Context) (*models.Session, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, f.err
}

func (f *fakeProvider) OnAuthStateChange(fn backend.AuthListener) func() {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listener = nil
		f.mu.Unlock()
	}
}

func (f *fakeProvider) emit(ev backend.AuthEvent, s *models.Session) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	if fn != nil {
		fn(ev, s)
	}
}

func fastOptions() Options {
	return Options{Attempts: 3, Backoff: 5 * time.Millisecond, Failsafe: time.Second, Fallback: models.RoleClient}
}

func waitReady(t *testing.T, r *Resolver, within time.Duration) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	st, err := r.Ready(ctx)
	require.NoError(t, err, "resolver still loading after %s", within)
	return st
}

func noLookup(t *testing.T) RoleLookup {
	return func(context.Context, *models.Session) (models.Role, error) {
		t.Error("role lookup should not run")
		return models.RoleNone, nil
	}
}

func TestResolverSessionStates(t *testing.T) {
	cases := []struct {
		name    string
		sess    *models.Session
		lookup  func(calls *int32) RoleLookup
		status  Status
		role    models.Role
		source  string
		minCall int32
	}{
		{
			name:   "absent",
			status: StatusUnauthenticated,
			lookup: func(*int32) RoleLookup { return nil },
		},
		{
			name:   "role in metadata",
			sess:   &models.Session{UserID: "u1", Role: models.RoleMarketer},
			status: StatusReady, role: models.RoleMarketer, source: SourceMetadata,
			lookup: func(*int32) RoleLookup { return nil },
		},
		{
			name:   "role from profile after retries",
			sess:   &models.Session{UserID: "u1"},
			status: StatusReady, role: models.RoleMarketer, source: SourceProfile, minCall: 3,
			lookup: func(calls *int32) RoleLookup {
				return func(context.Context, *models.Session) (models.Role, error) {
					if atomic.AddInt32(calls, 1) < 3 {
						return models.RoleNone, apperr.NotFound("no profile")
					}
					return models.RoleMarketer, nil
				}
			},
		},
		{
			name:   "lookup keeps failing",
			sess:   &models.Session{UserID: "u1"},
			status: StatusReady, role: models.RoleClient, source: SourceFallback, minCall: 3,
			lookup: func(calls *int32) RoleLookup {
				return func(context.Context, *models.Session) (models.Role, error) {
					atomic.AddInt32(calls, 1)
					return models.RoleNone, apperr.Transient("backend unavailable", nil)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			lookup := tc.lookup(&calls)
			if lookup == nil {
				lookup = noLookup(t)
			}
			r := NewResolver(&fakeProvider{sess: tc.sess}, lookup, fastOptions(), zap.NewNop().Sugar())
			defer r.Close()
			r.Start()

			st := waitReady(t, r, 500*time.Millisecond)
			assert.Equal(t, tc.status, st.Status)
			assert.Equal(t, tc.role, st.Role)
			assert.Equal(t, tc.source, st.Source)
			assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), tc.minCall)
		})
	}
}

func TestResolverFailsafeBeatsHangingLookup(t *testing.T) {
	cancelled := make(chan struct{})
	lookup := func(ctx context.Context, _ *models.Session) (models.Role, error) {
		<-ctx.Done()
		close(cancelled)
		return models.RoleNone, ctx.Err()
	}
	opts := fastOptions()
	opts.Failsafe = 50 * time.Millisecond
	r := NewResolver(&fakeProvider{sess: &models.Session{UserID: "u1"}}, lookup, opts, zap.NewNop().Sugar())
	defer r.Close()
	r.Start()

	st := waitReady(t, r, 500*time.Millisecond)
	assert.Equal(t, StatusReady, st.Status)
	assert.Equal(t, models.RoleClient, st.Role)
	assert.Equal(t, SourceFailsafe, st.Source)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("lookup was not cancelled after the failsafe settled")
	}
}

func TestResolverFailsafeWhileSessionUnknown(t *testing.T) {
	opts := fastOptions()
	opts.Failsafe = 50 * time.Millisecond
	p := &fakeProvider{block: make(chan struct{})}
	r := NewResolver(p, noLookup(t), opts, zap.NewNop().Sugar())
	defer r.Close()
	r.Start()

	st := waitReady(t, r, 500*time.Millisecond)
	assert.Equal(t, StatusUnauthenticated, st.Status)
}

func TestResolverEmptyFallbackLeavesRoleUnresolved(t *testing.T) {
	opts := fastOptions()
	opts.Fallback = models.RoleNone
	lookup := func(context.Context, *models.Session) (models.Role, error) {
		return models.RoleNone, apperr.NotFound("no profile")
	}
	r := NewResolver(&fakeProvider{sess: &models.Session{UserID: "u1"}}, lookup, opts, zap.NewNop().Sugar())
	defer r.Close()
	r.Start()

	st := waitReady(t, r, 500*time.Millisecond)
	assert.Equal(t, StatusReady, st.Status)
	assert.True(t, st.Authenticated())
	assert.False(t, st.Role.Valid())
}

func TestResolverSignOutClearsState(t *testing.T) {
	p := &fakeProvider{sess: &models.Session{UserID: "u1", Role: models.RoleClient}}
	r := NewResolver(p, noLookup(t), fastOptions(), zap.NewNop().Sugar())
	defer r.Close()
	r.Start()
	require.Equal(t, models.RoleClient, waitReady(t, r, 500*time.Millisecond).Role)

	p.emit(backend.EventSignedOut, nil)

	st := r.State()
	assert.Equal(t, StatusUnauthenticated, st.Status)
	assert.Nil(t, st.Session)
	assert.Equal(t, models.RoleNone, st.Role)
}

func TestResolverRefreshKeepsKnownRole(t *testing.T) {
	var calls int32
	lookup := func(context.Context, *models.Session) (models.Role, error) {
		atomic.AddInt32(&calls, 1)
		return models.RoleMarketer, nil
	}
	p := &fakeProvider{sess: &models.Session{UserID: "u1", AccessToken: "t1"}}
	r := NewResolver(p, lookup, fastOptions(), zap.NewNop().Sugar())
	defer r.Close()
	r.Start()
	require.Equal(t, models.RoleMarketer, waitReady(t, r, 500*time.Millisecond).Role)

	p.emit(backend.EventTokenRefreshed, &models.Session{UserID: "u1", AccessToken: "t2"})

	st := r.State()
	assert.Equal(t, StatusReady, st.Status)
	assert.Equal(t, models.RoleMarketer, st.Role)
	assert.Equal(t, "t2", st.Session.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolverSignInAfterSignOutResolvesAgain(t *testing.T) {
	p := &fakeProvider{}
	lookup := func(context.Context, *models.Session) (models.Role, error) { return models.RoleClient, nil }
	r := NewResolver(p, lookup, fastOptions(), zap.NewNop().Sugar())
	defer r.Close()
	r.Start()
	require.Equal(t, StatusUnauthenticated, waitReady(t, r, 500*time.Millisecond).Status)

	p.emit(backend.EventSignedIn, &models.Session{UserID: "u2"})

	st := waitReady(t, r, 500*time.Millisecond)
	assert.Equal(t, StatusReady, st.Status)
	assert.Equal(t, models.ID("u2"), st.UserID())
	assert.Equal(t, models.RoleClient, st.Role)
}

func TestResolverCloseDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	lookup := func(ctx context.Context, _ *models.Session) (models.Role, error) {
		<-release
		return models.RoleMarketer, nil
	}
	r := NewResolver(&fakeProvider{sess: &models.Session{UserID: "u1"}}, lookup, fastOptions(), zap.NewNop().Sugar())
	r.Start()
	r.Close()
	close(release)

	time.Sleep(20 * time.Millisecond)
	st := r.State()
	assert.Equal(t, StatusLoading, st.Status)
	assert.Equal(t, models.RoleNone, st.Role)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.Ready(ctx)
	assert.NoError(t, err, "Ready returns once closed")
}
