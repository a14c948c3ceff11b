package projects

import (
	"context"
	"sync"
)

// Repository defines project data access. Get returns nil, nil for an unknown
// id. Save replaces the stored project; proofs are only ever appended.
type Repository interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	Save(ctx context.Context, p *Project) error
	List(ctx context.Context) ([]*Project, error)
	ListOpen(ctx context.Context) ([]*Project, error)
}

type memoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]*Project
	order []string
}

// NewMemoryRepository creates an in-process repository
func NewMemoryRepository() Repository {
	return &memoryRepository{byID: make(map[string]*Project)}
}

func (r *memoryRepository) Create(ctx context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p.Clone()
	r.order = append(r.order, p.ID)
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id].Clone(), nil
}

func (r *memoryRepository) Save(ctx context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		return ErrNotFound
	}
	r.byID[p.ID] = p.Clone()
	return nil
}

func (r *memoryRepository) List(ctx context.Context) ([]*Project, error) {
	return r.list(false), nil
}

func (r *memoryRepository) ListOpen(ctx context.Context) ([]*Project, error) {
	return r.list(true), nil
}

func (r *memoryRepository) list(openOnly bool) []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.order))
	for _, id := range r.order {
		p := r.byID[id]
		if openOnly && p.Status.IsTerminal() {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}
