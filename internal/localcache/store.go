// Package localcache is the persistent key-value cache that stands in for browser
// storage. Entries are namespaced by device id so pending work survives sign-out.
package localcache

import (
	"context"
	"sort"
	"sync"
)

const (
	KeyProjects    = "my_projects"
	KeyProposals   = "proposals"
	KeyAuthSession = "auth_session"
	KeyWizardDraft = "wizard_draft"
)

type Store interface {
	Get(ctx context.Context, ns, key string) ([]byte, bool, error)
	Set(ctx context.Context, ns, key string, value []byte) error
	Delete(ctx context.Context, ns, key string) error
	Keys(ctx context.Context, ns string) ([]string, error)
	Clear(ctx context.Context, ns string) error
}

// Bucket is a Store pinned to one namespace.
type Bucket struct {
	store Store
	ns    string
}

func NewBucket(s Store, ns string) Bucket { return Bucket{store: s, ns: ns} }

func (b Bucket) Namespace() string { return b.ns }

func (b Bucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return b.store.Get(ctx, b.ns, key)
}

func (b Bucket) Set(ctx context.Context, key string, value []byte) error {
	return b.store.Set(ctx, b.ns, key, value)
}

func (b Bucket) Delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, b.ns, key)
}

func (b Bucket) Keys(ctx context.Context) ([]string, error) {
	return b.store.Keys(ctx, b.ns)
}

func (b Bucket) Clear(ctx context.Context) error {
	return b.store.Clear(ctx, b.ns)
}

// ClearPreserving backs up keep, clears the namespace and restores the backed-up keys.
func (b Bucket) ClearPreserving(ctx context.Context, keep ...string) error {
	backup := make(map[string][]byte, len(keep))
	for _, k := range keep {
		v, ok, err := b.Get(ctx, k)
		if err != nil {
			return err
		}
		if ok {
			backup[k] = v
		}
	}
	if err := b.Clear(ctx); err != nil {
		return err
	}
	for k, v := range backup {
		if err := b.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string]map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(_ context.Context, ns, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[ns] == nil {
		m.data[ns] = map[string][]byte{}
	}
	m.data[ns][key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
	return nil
}

func (m *Memory) Keys(_ context.Context, ns string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[ns]))
	for k := range m.data[ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Clear(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, ns)
	return nil
}
