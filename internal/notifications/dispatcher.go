package notifications

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"impact-escrow/escrow-engine/internal/projects"
	"impact-escrow/escrow-engine/internal/validators"
	"impact-escrow/escrow-engine/pkg/geospatial"
	"impact-escrow/escrow-engine/pkg/workflows"
)

var statusTransitions = map[string][]string{
	string(StatusPending):   {string(StatusAccepted), string(StatusDeclined)},
	string(StatusAccepted):  {string(StatusCompleted)},
	string(StatusDeclined):  {},
	string(StatusCompleted): {},
}

// DispatcherConfig holds dispatch settings
type DispatcherConfig struct {
	Reward         float64       `json:"reward"`
	ResponseWindow time.Duration `json:"response_window"`
	Backups        int           `json:"backups"`
	MaxDistanceKm  float64       `json:"max_distance_km"`
	RatePerSecond  float64       `json:"rate_per_second"`
	Burst          int           `json:"burst"`
	SendTimeout    time.Duration `json:"send_timeout"`
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Reward:         50,
		ResponseWindow: 7 * 24 * time.Hour,
		Backups:        2,
		RatePerSecond:  5,
		Burst:          10,
		SendTimeout:    30 * time.Second,
	}
}

// Directory finds candidate validators around a project
type Directory interface {
	FindNearby(ctx context.Context, location geospatial.Coordinate, category validators.Category, maxDistanceKm float64) ([]validators.Candidate, error)
}

// Dispatcher recruits validators for projects and tracks their responses.
// Delivery runs in the background; a failed delivery is logged and the
// notification stays PENDING.
type Dispatcher struct {
	directory Directory
	selector  *validators.Selector
	store     Store
	transport Transport
	limiter   *rate.Limiter
	machine   *workflows.StateMachine
	cfg       DispatcherConfig
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
	inflight  sync.WaitGroup
}

// NewDispatcher creates a notification dispatcher
func NewDispatcher(
	directory Directory,
	selector *validators.Selector,
	store Store,
	transport Transport,
	cfg DispatcherConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *Dispatcher {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultDispatcherConfig().SendTimeout
	}
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = DefaultDispatcherConfig().ResponseWindow
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Dispatcher{
		directory: directory,
		selector:  selector,
		store:     store,
		transport: transport,
		limiter:   rate.NewLimiter(limit, burst),
		machine:   workflows.NewStateMachine(statusTransitions),
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// NotifyValidators selects the best RequiredCount validators plus backups
// near the project, stores one PENDING notification per validator and hands
// them to the transport without waiting for delivery.
func (d *Dispatcher) NotifyValidators(ctx context.Context, req NotifyRequest) (*DispatchResult, error) {
	if req.ProjectID == "" || req.RequiredCount < 1 || !req.Location.Valid() {
		return nil, ErrInvalidRequest
	}
	if req.Urgency == "" {
		req.Urgency = validators.UrgencyMedium
	}
	maxKm := req.MaxDistanceKm
	if maxKm <= 0 {
		maxKm = d.cfg.MaxDistanceKm
	}
	reward := req.Reward
	if reward <= 0 {
		reward = d.cfg.Reward
	}

	candidates, err := d.directory.FindNearby(ctx, req.Location, req.Category, maxKm)
	if err != nil {
		return nil, fmt.Errorf("failed to find validators: %w", err)
	}

	byAddress := make(map[string]*validators.Validator, len(candidates))
	profiles := make([]validators.Profile, 0, len(candidates))
	for _, c := range candidates {
		byAddress[c.Validator.Address] = c.Validator
		profiles = append(profiles, validators.ProfileOf(c.Validator))
	}

	project := req.ProjectContext()
	selected := d.selector.SelectOptimalValidators(project, profiles, req.RequiredCount+d.cfg.Backups)

	sentAt := d.now()
	list := make([]*ValidatorNotification, 0, len(selected))
	for _, score := range selected {
		list = append(list, &ValidatorNotification{
			ID:                  uuid.New().String(),
			ProjectID:           req.ProjectID,
			ProjectTitle:        req.ProjectTitle,
			ValidatorAddress:    score.Address,
			EstimatedDistanceKm: math.Round(score.DistanceKm),
			Reward:              reward,
			Deadline:            sentAt.Add(d.cfg.ResponseWindow),
			SentAt:              sentAt,
			Status:              StatusPending,
			Score:               score.Total,
			Recommendation:      score.Recommendation,
			Metadata: map[string]interface{}{
				"category": string(req.Category),
				"urgency":  string(req.Urgency),
				"lat":      req.Location.Lat,
				"lng":      req.Location.Lng,
			},
		})
	}

	if err := d.store.CreateBatch(ctx, list); err != nil {
		return nil, err
	}

	for _, n := range list {
		d.deliver(ctx, *n, RecipientOf(byAddress[n.ValidatorAddress]))
	}

	d.logger.Info("Validators notified",
		zap.String("project_id", req.ProjectID),
		zap.Int("candidates", len(candidates)),
		zap.Int("notified", len(list)))

	return &DispatchResult{
		Notifications:      list,
		SuccessProbability: d.selector.PredictSuccessProbability(project, selected),
	}, nil
}

// deliver sends one notification in the background. The send outlives the
// caller's context but is bounded by SendTimeout.
func (d *Dispatcher) deliver(ctx context.Context, n ValidatorNotification, to Recipient) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
		defer cancel()

		if err := d.limiter.Wait(sendCtx); err != nil {
			d.metrics.Failed.Add(1)
			d.logger.Warn("Notification dropped by rate limiter",
				zap.String("notification_id", n.ID),
				zap.String("validator", n.ValidatorAddress),
				zap.Error(err))
			return
		}
		if err := d.transport.Send(sendCtx, n, to); err != nil {
			d.metrics.Failed.Add(1)
			d.logger.Warn("Failed to deliver notification",
				zap.String("notification_id", n.ID),
				zap.String("project_id", n.ProjectID),
				zap.String("validator", n.ValidatorAddress),
				zap.Error(err))
			return
		}
		d.metrics.Sent.Add(1)
	}()
}

// Wait blocks until every background delivery has finished
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Respond records a validator's answer. Only the addressed validator may
// respond; PENDING moves to ACCEPTED or DECLINED, ACCEPTED to COMPLETED.
func (d *Dispatcher) Respond(ctx context.Context, id, address string, status Status) (*ValidatorNotification, error) {
	n, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.ValidatorAddress != address {
		return nil, ErrNotRecipient
	}
	if err := d.machine.Transition(string(n.Status), string(status)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	at := d.now()
	if err := d.store.UpdateStatus(ctx, id, n.Status, status, at); err != nil {
		return nil, err
	}
	d.metrics.Responses.With("status", string(status)).Add(1)

	n.Status = status
	n.RespondedAt = &at
	return n, nil
}

// ListByProject returns the notifications sent for a project, newest first
func (d *Dispatcher) ListByProject(ctx context.Context, projectID string) ([]*ValidatorNotification, error) {
	return d.store.ListByProject(ctx, projectID)
}

// ListByValidator returns the notifications addressed to a validator
func (d *Dispatcher) ListByValidator(ctx context.Context, address string) ([]*ValidatorNotification, error) {
	return d.store.ListByValidator(ctx, address)
}

// ProjectRecruiter notifies validators for projects created without any and
// authorizes the notified addresses
type ProjectRecruiter struct {
	dispatcher *Dispatcher
}

// NewProjectRecruiter adapts a dispatcher to the escrow engine
func NewProjectRecruiter(d *Dispatcher) *ProjectRecruiter {
	return &ProjectRecruiter{dispatcher: d}
}

func (r *ProjectRecruiter) Recruit(ctx context.Context, p *projects.Project) ([]string, error) {
	result, err := r.dispatcher.NotifyValidators(ctx, NotifyRequest{
		ProjectID:     p.ID,
		ProjectTitle:  p.Title,
		Location:      p.Location.Coordinate(),
		Category:      p.Category,
		Urgency:       p.Urgency,
		Amount:        p.Amount,
		RiskLevel:     p.RiskLevel,
		RequiredCount: p.Conditions.ValidatorsRequired,
	})
	if err != nil {
		return nil, err
	}
	return result.Addresses(), nil
}
