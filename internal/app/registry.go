package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bidmarket/internal/activity"
	"bidmarket/internal/metrics"
)

// Registry owns every live environment, keyed by environment id.
type Registry struct {
	deps *Deps
	ttl  time.Duration

	mu   sync.Mutex
	envs map[string]*Env
}

func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if deps.Activity == nil {
		deps.Activity = activity.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{deps: &deps, ttl: ttl, envs: map[string]*Env{}}
}

// Create starts a new environment. An empty deviceID gets a fresh one.
func (r *Registry) Create(ctx context.Context, deviceID string) *Env {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	e := newEnv(ctx, r.deps, uuid.NewString(), deviceID)
	r.mu.Lock()
	r.envs[e.ID] = e
	n := len(r.envs)
	r.mu.Unlock()
	metrics.ActiveEnvironments.Set(float64(n))
	return e
}

func (r *Registry) Get(id string) (*Env, bool) {
	r.mu.Lock()
	e, ok := r.envs[id]
	r.mu.Unlock()
	if ok {
		e.touch()
	}
	return e, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.envs[id]
	delete(r.envs, id)
	n := len(r.envs)
	r.mu.Unlock()
	if ok {
		e.Close()
	}
	metrics.ActiveEnvironments.Set(float64(n))
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

// Sweep closes environments idle for longer than the TTL and returns how many went.
func (r *Registry) Sweep(now time.Time) int {
	var idle []*Env
	r.mu.Lock()
	for id, e := range r.envs {
		if now.Sub(e.idleSince()) > r.ttl {
			idle = append(idle, e)
			delete(r.envs, id)
		}
	}
	n := len(r.envs)
	r.mu.Unlock()
	for _, e := range idle {
		e.Close()
	}
	metrics.ActiveEnvironments.Set(float64(n))
	if len(idle) > 0 {
		r.deps.Logger.Infow("evicted idle environments", "count", len(idle), "active", n)
	}
	return len(idle)
}

// Run sweeps periodically until ctx ends.
func (r *Registry) Run(ctx context.Context) {
	every := r.ttl / 4
	if every < time.Minute {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Sweep(now)
		}
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.envs
	r.envs = map[string]*Env{}
	r.mu.Unlock()
	for _, e := range all {
		e.Close()
	}
	metrics.ActiveEnvironments.Set(0)
}
