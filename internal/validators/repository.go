package validators

import (
	"context"
	"sync"
)

// Repository defines validator data access. Get returns nil, nil for an
// unknown address.
type Repository interface {
	Create(ctx context.Context, v *Validator) error
	Get(ctx context.Context, address string) (*Validator, error)
	Update(ctx context.Context, v *Validator) error
	ListByStatus(ctx context.Context, status Status) ([]*Validator, error)
	Count(ctx context.Context) (int, error)
}

// memoryRepository keeps validators in registration order
type memoryRepository struct {
	mu    sync.RWMutex
	byKey map[string]*Validator
	order []string
}

// NewMemoryRepository creates an in-process repository
func NewMemoryRepository() Repository {
	return &memoryRepository{byKey: make(map[string]*Validator)}
}

func (r *memoryRepository) Create(ctx context.Context, v *Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[v.Address]; ok {
		return ErrValidatorExists
	}
	r.byKey[v.Address] = v.Clone()
	r.order = append(r.order, v.Address)
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, address string) (*Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[address].Clone(), nil
}

func (r *memoryRepository) Update(ctx context.Context, v *Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[v.Address]; !ok {
		return ErrValidatorNotFound
	}
	r.byKey[v.Address] = v.Clone()
	return nil
}

func (r *memoryRepository) ListByStatus(ctx context.Context, status Status) ([]*Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Validator, 0, len(r.order))
	for _, addr := range r.order {
		if v := r.byKey[addr]; v.Status == status {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

func (r *memoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order), nil
}
