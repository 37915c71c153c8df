// Package session resolves who is signed in and which role they act as.
//
// Each resolution run has a generation number. The profile lookup task and the
// failsafe timer of a run race to settle it; the first settle of the current
// generation wins and every later settle is a no-op. Sign-out, a new run, or
// Close bump the generation, which also discards results still in flight.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bidmarket/internal/apperr"
	"bidmarket/internal/backend"
	"bidmarket/internal/metrics"
	"bidmarket/internal/models"
)

type Status string

const (
	StatusLoading         Status = "loading"
	StatusReady           Status = "ready"
	StatusUnauthenticated Status = "unauthenticated"
)

// How a terminal role was obtained.
const (
	SourceMetadata = "metadata"
	SourceProfile  = "profile"
	SourceFallback = "fallback"
	SourceFailsafe = "failsafe"
)

type State struct {
	Status  Status          `json:"status"`
	Session *models.Session `json:"-"`
	Role    models.Role     `json:"role"`
	Source  string          `json:"source,omitempty"`
}

func (s State) Terminal() bool { return s.Status != StatusLoading }

func (s State) Authenticated() bool { return s.Status == StatusReady && s.Session != nil }

func (s State) UserID() models.ID {
	if s.Session == nil {
		return ""
	}
	return s.Session.UserID
}

type Provider interface {
	CurrentSession(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn backend.AuthListener) func()
}

// RoleLookup reads the role from the user's profile record. A not_found error means
// the record may not exist yet.
type RoleLookup func(ctx context.Context, sess *models.Session) (models.Role, error)

type Options struct {
	Attempts int
	Backoff  time.Duration
	Failsafe time.Duration
	// Fallback is assigned when no role resolves; RoleNone leaves the session unresolved.
	Fallback models.Role
}

func DefaultOptions() Options {
	return Options{Attempts: 3, Backoff: time.Second, Failsafe: 3 * time.Second, Fallback: models.RoleClient}
}

type Resolver struct {
	provider Provider
	lookup   RoleLookup
	opts     Options
	lg       *zap.SugaredLogger

	base context.Context
	stop context.CancelFunc

	mu          sync.Mutex
	state       State
	gen         uint64
	cancel      context.CancelFunc
	timer       *time.Timer
	ready       chan struct{}
	readyClosed bool
	unsub       func()
	closed      bool
}

func NewResolver(p Provider, lookup RoleLookup, opts Options, lg *zap.SugaredLogger) *Resolver {
	d := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = d.Attempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = d.Backoff
	}
	if opts.Failsafe <= 0 {
		opts.Failsafe = d.Failsafe
	}
	base, stop := context.WithCancel(context.Background())
	return &Resolver{
		provider: p,
		lookup:   lookup,
		opts:     opts,
		lg:       lg,
		base:     base,
		stop:     stop,
		state:    State{Status: StatusLoading},
		ready:    make(chan struct{}),
	}
}

// Start subscribes to session changes and begins the bootstrap run. It does not block;
// use Ready to wait for the terminal state.
func (r *Resolver) Start() {
	unsub := r.provider.OnAuthStateChange(r.onAuthEvent)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		unsub()
		return
	}
	r.unsub = unsub
	r.beginLocked(nil, true)
}

func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Ready blocks until the state is terminal, the resolver is closed, or ctx ends.
func (r *Resolver) Ready(ctx context.Context) (State, error) {
	for {
		r.mu.Lock()
		st := r.snapshotLocked()
		ch := r.ready
		closed := r.closed
		r.mu.Unlock()
		if st.Terminal() || closed {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Close unsubscribes, stops timers and discards in-flight lookups.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.gen++
	r.abortLocked()
	r.closeReadyLocked()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	r.stop()
}

func (r *Resolver) onAuthEvent(ev backend.AuthEvent, sess *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	switch ev {
	case backend.EventSignedOut:
		r.gen++
		r.abortLocked()
		r.state = State{Status: StatusUnauthenticated}
		r.closeReadyLocked()
		r.lg.Debugw("session signed out")
	case backend.EventSignedIn, backend.EventTokenRefreshed:
		if sess == nil {
			return
		}
		cur := r.state
		sameUser := cur.Session != nil && cur.Session.UserID == sess.UserID
		if sameUser && (cur.Role.Valid() || cur.Status == StatusLoading) {
			r.state.Session = sess
			return
		}
		r.beginLocked(sess, false)
	}
}

func (r *Resolver) beginLocked(known *models.Session, fetch bool) {
	r.abortLocked()
	r.gen++
	gen := r.gen
	r.state = State{Status: StatusLoading, Session: known}
	if r.readyClosed {
		r.ready = make(chan struct{})
		r.readyClosed = false
	}
	if !fetch {
		if known == nil {
			r.settleLocked(State{Status: StatusUnauthenticated}, "absent")
			return
		}
		if known.Role.Valid() {
			r.settleLocked(State{Status: StatusReady, Session: known, Role: known.Role, Source: SourceMetadata}, SourceMetadata)
			return
		}
	}
	ctx, cancel := context.WithCancel(r.base)
	r.cancel = cancel
	r.timer = time.AfterFunc(r.opts.Failsafe, func() { r.expire(gen) })
	go r.run(ctx, gen, known, fetch)
}

func (r *Resolver) run(ctx context.Context, gen uint64, sess *models.Session, fetch bool) {
	if fetch {
		s, err := r.provider.CurrentSession(ctx)
		if err != nil {
			r.lg.Warnw("current session lookup failed", "error", err)
			s = nil
		}
		if !r.attachSession(gen, s) {
			return
		}
		sess = s
	}
	if sess == nil {
		r.settle(gen, State{Status: StatusUnauthenticated}, "absent")
		return
	}
	if sess.Role.Valid() {
		r.settle(gen, State{Status: StatusReady, Session: sess, Role: sess.Role, Source: SourceMetadata}, SourceMetadata)
		return
	}
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		role, err := r.lookup(ctx, sess)
		if ctx.Err() != nil {
			return
		}
		if err == nil && role.Valid() {
			r.settle(gen, State{Status: StatusReady, Session: sess, Role: role, Source: SourceProfile}, SourceProfile)
			return
		}
		if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			r.lg.Warnw("role lookup failed", "user_id", sess.UserID, "attempt", attempt, "error", err)
		} else {
			r.lg.Debugw("role not found", "user_id", sess.UserID, "attempt", attempt)
		}
		if attempt == r.opts.Attempts {
			break
		}
		t := time.NewTimer(r.opts.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	r.settle(gen, State{Status: StatusReady, Session: sess, Role: r.opts.Fallback, Source: SourceFallback}, SourceFallback)
}

func (r *Resolver) attachSession(gen uint64, s *models.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen || r.state.Terminal() {
		return false
	}
	r.state.Session = s
	return true
}

func (r *Resolver) expire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen || r.state.Terminal() {
		return
	}
	if r.state.Session == nil {
		r.settleLocked(State{Status: StatusUnauthenticated}, "failsafe_unauthenticated")
		return
	}
	r.lg.Warnw("role resolution timed out, using fallback", "user_id", r.state.Session.UserID, "fallback", r.opts.Fallback)
	r.settleLocked(State{Status: StatusReady, Session: r.state.Session, Role: r.opts.Fallback, Source: SourceFailsafe}, SourceFailsafe)
}

func (r *Resolver) settle(gen uint64, st State, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen || r.state.Terminal() {
		return
	}
	r.settleLocked(st, outcome)
}

func (r *Resolver) settleLocked(st State, outcome string) {
	r.state = st
	r.abortLocked()
	r.closeReadyLocked()
	metrics.RoleResolutions.WithLabelValues(outcome).Inc()
}

func (r *Resolver) abortLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Resolver) closeReadyLocked() {
	if !r.readyClosed {
		close(r.ready)
		r.readyClosed = true
	}
}

func (r *Resolver) snapshotLocked() State {
	st := r.state
	if st.Session != nil {
		cp := *st.Session
		st.Session = &cp
	}
	return st
}
