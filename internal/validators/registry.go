package validators

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"impact-escrow/escrow-engine/pkg/geospatial"
	"impact-escrow/escrow-engine/pkg/locking"
)

// RegistryConfig holds the reputation and search rules of the registry
type RegistryConfig struct {
	DefaultSearchRadiusKm float64 `json:"default_search_radius_km"`
	AcceptIncrement       float64 `json:"accept_increment"`
	MaxAcceptIncrement    float64 `json:"max_accept_increment"`
	RejectPenalty         float64 `json:"reject_penalty"`
	SuspensionThreshold   float64 `json:"suspension_threshold"`
	RewardPerValidation   float64 `json:"reward_per_validation"`
	DefaultResponseHours  float64 `json:"default_response_hours"`
	ReputationWeight      float64 `json:"reputation_weight"`
	ProximityWeight       float64 `json:"proximity_weight"`
}

// DefaultRegistryConfig returns default configuration
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		DefaultSearchRadiusKm: 100,
		AcceptIncrement:       5,
		MaxAcceptIncrement:    10,
		RejectPenalty:         10,
		SuspensionThreshold:   30,
		RewardPerValidation:   50,
		DefaultResponseHours:  24,
		ReputationWeight:      0.7,
		ProximityWeight:       0.3,
	}
}

// Registry tracks validators and their reputation. Reputation updates for one
// address are serialized through the locker.
type Registry struct {
	repo    Repository
	locks   locking.Locker
	cfg     RegistryConfig
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry creates a validator registry
func NewRegistry(repo Repository, locks locking.Locker, cfg RegistryConfig, metrics *Metrics, logger *zap.Logger) *Registry {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Registry{
		repo:    repo,
		locks:   locks,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Register adds a validator to the active set
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Validator, error) {
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: address and name are required", ErrInvalidValidator)
	}
	if !req.Location.Coordinate().Valid() {
		return nil, fmt.Errorf("%w: location out of range", ErrInvalidValidator)
	}
	if math.IsNaN(req.Reputation) {
		return nil, fmt.Errorf("%w: reputation is not a number", ErrInvalidValidator)
	}
	for _, s := range req.Specialties {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown specialty %q", ErrInvalidValidator, s)
		}
	}

	responseHours := req.AvgResponseHours
	if responseHours <= 0 {
		responseHours = r.cfg.DefaultResponseHours
	}

	now := r.now()
	v := &Validator{
		Address:          req.Address,
		Name:             req.Name,
		Location:         req.Location,
		Reputation:       clamp(req.Reputation, 0, 100),
		Specialties:      append([]Category(nil), req.Specialties...),
		AvgResponseHours: responseHours,
		JoinedAt:         now,
		LastActiveAt:     now,
		Status:           StatusActive,
		Contact:          req.Contact,
	}
	if err := r.repo.Create(ctx, v); err != nil {
		return nil, err
	}

	r.metrics.Registrations.Add(1)
	r.logger.Info("Validator registered",
		zap.String("address", v.Address),
		zap.String("region", v.Location.Region),
		zap.Float64("reputation", v.Reputation))
	return v, nil
}

// Get returns a validator by address
func (r *Registry) Get(ctx context.Context, address string) (*Validator, error) {
	v, err := r.repo.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to load validator: %w", err)
	}
	if v == nil {
		return nil, ErrValidatorNotFound
	}
	return v, nil
}

// ListActive returns every ACTIVE validator in registration order
func (r *Registry) ListActive(ctx context.Context) ([]*Validator, error) {
	return r.repo.ListByStatus(ctx, StatusActive)
}

// FindNearby returns ACTIVE validators covering category within maxDistanceKm
// of location, best first. A non-positive radius uses the configured default.
func (r *Registry) FindNearby(ctx context.Context, location geospatial.Coordinate, category Category, maxDistanceKm float64) ([]Candidate, error) {
	if maxDistanceKm <= 0 {
		maxDistanceKm = r.cfg.DefaultSearchRadiusKm
	}

	active, err := r.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list validators: %w", err)
	}

	bound, useBound := geospatial.SearchBound(location, maxDistanceKm)

	candidates := make([]Candidate, 0)
	for _, v := range active {
		if !v.HasSpecialty(category) {
			continue
		}
		pos := v.Location.Coordinate()
		if useBound && !bound.Contains(pos.Point()) {
			continue
		}
		d := geospatial.Distance(location, pos, geospatial.Kilometers)
		if d > maxDistanceKm {
			continue
		}
		candidates = append(candidates, Candidate{
			Validator:  v,
			DistanceKm: d,
			Score:      r.cfg.ReputationWeight*v.Reputation + r.cfg.ProximityWeight*(1-d/maxDistanceKm)*100,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}

// UpdateReputation records the outcome of one validation. Accepted proofs
// earn min(AcceptIncrement+bonus, MaxAcceptIncrement); rejections cost
// RejectPenalty and suspend the validator below SuspensionThreshold.
func (r *Registry) UpdateReputation(ctx context.Context, address string, accepted bool, bonus float64) (*Validator, error) {
	unlock, err := r.locks.Lock(ctx, "validator:"+address)
	if err != nil {
		return nil, fmt.Errorf("failed to lock validator: %w", err)
	}
	defer unlock()

	v, err := r.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	v.ValidationsCompleted++
	outcome := "accepted"
	if accepted {
		v.ValidationsAccepted++
		inc := math.Min(r.cfg.AcceptIncrement+math.Max(bonus, 0), r.cfg.MaxAcceptIncrement)
		v.Reputation = math.Min(100, v.Reputation+inc)
	} else {
		outcome = "rejected"
		v.ValidationsRejected++
		v.Reputation = math.Max(0, v.Reputation-r.cfg.RejectPenalty)
	}

	suspended := false
	if v.Reputation < r.cfg.SuspensionThreshold && v.Status != StatusSuspended {
		v.Status = StatusSuspended
		suspended = true
	}
	v.LastActiveAt = r.now()

	if err := r.repo.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to update validator: %w", err)
	}

	r.metrics.ReputationUpdates.With("outcome", outcome).Add(1)
	if suspended {
		r.metrics.Suspensions.Add(1)
		r.logger.Warn("Validator suspended",
			zap.String("address", address),
			zap.Float64("reputation", v.Reputation))
	}
	return v, nil
}

// Stats derives the validator's track record
func (r *Registry) Stats(ctx context.Context, address string) (*Stats, error) {
	v, err := r.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	successRate := 0.0
	if v.ValidationsCompleted > 0 {
		successRate = float64(v.ValidationsAccepted) / float64(v.ValidationsCompleted) * 100
	}
	return &Stats{
		Address:          v.Address,
		Reputation:       v.Reputation,
		Status:           v.Status,
		TotalValidations: v.ValidationsCompleted,
		Accepted:         v.ValidationsAccepted,
		Rejected:         v.ValidationsRejected,
		SuccessRate:      successRate,
		AvgResponseHours: v.AvgResponseHours,
		RewardsEarned:    float64(v.ValidationsAccepted) * r.cfg.RewardPerValidation,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
