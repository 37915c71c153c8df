package localcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"bidmarket/internal/models"
)

// Pending holds the locally created projects and proposals, newest first.
type Pending struct {
	mu sync.Mutex
	b  Bucket
}

func NewPending(b Bucket) *Pending { return &Pending{b: b} }

func (p *Pending) Bucket() Bucket { return p.b }

func (p *Pending) Projects(ctx context.Context) ([]models.Project, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return readList[models.Project](ctx, p.b, KeyProjects)
}

func (p *Pending) Proposals(ctx context.Context) ([]models.Proposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return readList[models.Proposal](ctx, p.b, KeyProposals)
}

// AddProject prepends pr. Rows without an origin are marked local; rows the remote store
// already returned keep their remote origin.
func (p *Pending) AddProject(ctx context.Context, pr models.Project) error {
	if pr.Origin == "" {
		pr.Origin = models.OriginLocal
	}
	return p.edit(ctx, KeyProjects, func(raw []byte) ([]byte, error) {
		return prepend(raw, pr)
	})
}

func (p *Pending) AddProposal(ctx context.Context, pr models.Proposal) error {
	if pr.Origin == "" {
		pr.Origin = models.OriginLocal
	}
	return p.edit(ctx, KeyProposals, func(raw []byte) ([]byte, error) {
		return prepend(raw, pr)
	})
}

// SetProjectStatus updates a pending project in place; missing ids are ignored.
func (p *Pending) SetProjectStatus(ctx context.Context, id models.ID, status models.ProjectStatus) error {
	return p.edit(ctx, KeyProjects, func(raw []byte) ([]byte, error) {
		return mapList(raw, func(pr *models.Project) {
			if pr.ID == id {
				pr.Status = status
			}
		})
	})
}

func (p *Pending) SetProposalStatus(ctx context.Context, id models.ID, status models.ProposalStatus) error {
	return p.edit(ctx, KeyProposals, func(raw []byte) ([]byte, error) {
		return mapList(raw, func(pr *models.Proposal) {
			if pr.ID == id {
				pr.Status = status
			}
		})
	})
}

// PruneProjects drops pending projects the remote store already returned.
func (p *Pending) PruneProjects(ctx context.Context, reconciled map[models.ID]bool) error {
	if len(reconciled) == 0 {
		return nil
	}
	return p.edit(ctx, KeyProjects, func(raw []byte) ([]byte, error) {
		return filterList(raw, func(pr models.Project) bool { return !reconciled[pr.ID] })
	})
}

func (p *Pending) PruneProposals(ctx context.Context, reconciled map[models.ID]bool) error {
	if len(reconciled) == 0 {
		return nil
	}
	return p.edit(ctx, KeyProposals, func(raw []byte) ([]byte, error) {
		return filterList(raw, func(pr models.Proposal) bool { return !reconciled[pr.ID] })
	})
}

func (p *Pending) edit(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, _, err := p.b.Get(ctx, key)
	if err != nil {
		return err
	}
	out, err := fn(raw)
	if err != nil {
		return fmt.Errorf("localcache %s: %w", key, err)
	}
	return p.b.Set(ctx, key, out)
}

func readList[T any](ctx context.Context, b Bucket, key string) ([]T, error) {
	raw, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return decodeList[T](raw)
}

func decodeList[T any](raw []byte) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []T
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func prepend[T any](raw []byte, item T) ([]byte, error) {
	list, err := decodeList[T](raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(append([]T{item}, list...))
}

func mapList[T any](raw []byte, fn func(*T)) ([]byte, error) {
	list, err := decodeList[T](raw)
	if err != nil {
		return nil, err
	}
	for i := range list {
		fn(&list[i])
	}
	return json.Marshal(list)
}

func filterList[T any](raw []byte, keep func(T) bool) ([]byte, error) {
	list, err := decodeList[T](raw)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, it := range list {
		if keep(it) {
			out = append(out, it)
		}
	}
	return json.Marshal(out)
}
