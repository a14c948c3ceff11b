package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidRequest       = errors.New("invalid notify request")
	ErrInvalidTransition    = errors.New("invalid notification status transition")
	ErrNotRecipient         = errors.New("notification addressed to another validator")
	ErrNoAddress            = errors.New("recipient has no address for transport")
)

// Store persists validator notifications. UpdateStatus only applies when the
// stored status still equals from.
type Store interface {
	CreateBatch(ctx context.Context, list []*ValidatorNotification) error
	Get(ctx context.Context, id string) (*ValidatorNotification, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	ListByProject(ctx context.Context, projectID string) ([]*ValidatorNotification, error)
	ListByValidator(ctx context.Context, address string) ([]*ValidatorNotification, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by gorm
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Migrate creates or updates the notification table
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ValidatorNotification{}); err != nil {
		return fmt.Errorf("failed to migrate notifications: %w", err)
	}
	return nil
}

func (s *gormStore) CreateBatch(ctx context.Context, list []*ValidatorNotification) error {
	if len(list) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&list).Error; err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, id string) (*ValidatorNotification, error) {
	var n ValidatorNotification
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (s *gormStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&ValidatorNotification{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":       to,
			"responded_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *gormStore) ListByProject(ctx context.Context, projectID string) ([]*ValidatorNotification, error) {
	return s.list(ctx, "project_id = ?", projectID)
}

func (s *gormStore) ListByValidator(ctx context.Context, address string) ([]*ValidatorNotification, error) {
	return s.list(ctx, "validator_address = ?", address)
}

func (s *gormStore) list(ctx context.Context, query string, arg string) ([]*ValidatorNotification, error) {
	var list []*ValidatorNotification
	err := s.db.WithContext(ctx).
		Where(query, arg).
		Order("sent_at DESC, score DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

type memoryStore struct {
	mu   sync.RWMutex
	byID map[string]*ValidatorNotification
}

// NewMemoryStore creates an in-process store
func NewMemoryStore() Store {
	return &memoryStore{byID: make(map[string]*ValidatorNotification)}
}

func (s *memoryStore) CreateBatch(ctx context.Context, list []*ValidatorNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range list {
		cp := *n
		s.byID[n.ID] = &cp
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*ValidatorNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byID[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if n.Status != from {
		return ErrInvalidTransition
	}
	n.Status = to
	n.RespondedAt = &at
	n.UpdatedAt = at
	return nil
}

func (s *memoryStore) ListByProject(ctx context.Context, projectID string) ([]*ValidatorNotification, error) {
	return s.list(func(n *ValidatorNotification) bool { return n.ProjectID == projectID }), nil
}

func (s *memoryStore) ListByValidator(ctx context.Context, address string) ([]*ValidatorNotification, error) {
	return s.list(func(n *ValidatorNotification) bool { return n.ValidatorAddress == address }), nil
}

func (s *memoryStore) list(match func(*ValidatorNotification) bool) []*ValidatorNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ValidatorNotification, 0)
	for _, n := range s.byID {
		if match(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].Score > out[j].Score
	})
	return out
}
