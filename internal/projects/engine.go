package projects

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"impact-escrow/escrow-engine/internal/ledger"
	"impact-escrow/escrow-engine/internal/validators"
	"impact-escrow/escrow-engine/pkg/geospatial"
	"impact-escrow/escrow-engine/pkg/locking"
	"impact-escrow/escrow-engine/pkg/workflows"
)

// commitTimeout bounds the bookkeeping that follows a settled ledger call. It
// runs detached from the caller's context so a settled hold is always recorded.
const commitTimeout = 10 * time.Second

var statusTransitions = map[string][]string{
	string(StatusPending):    {string(StatusInProgress), string(StatusFunded), string(StatusAlert)},
	string(StatusInProgress): {string(StatusFunded), string(StatusAlert)},
	string(StatusAlert):      {string(StatusCancelled)},
	string(StatusFunded):     {},
	string(StatusCancelled):  {},
}

// EngineConfig holds the escrow rules
type EngineConfig struct {
	// Minimum snapshot reputation for a proof to count as high-trust.
	HighTrustReputation float64
	// Fraction of required approvals that moves a project to IN_PROGRESS.
	SoftProgressRatio float64
	// Time after the deadline before the ledger allows the hold to be cancelled.
	HoldGracePeriod time.Duration
	// Age after which a settlement marker is treated as abandoned.
	PendingOpTimeout time.Duration
	// Hold destination when a project has no beneficiary.
	PoolAddress string
}

// DefaultEngineConfig returns default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HighTrustReputation: 80,
		SoftProgressRatio:   0.5,
		HoldGracePeriod:     7 * 24 * time.Hour,
		PendingOpTimeout:    2 * time.Minute,
	}
}

// ValidatorDirectory is the part of the validator registry the engine needs
type ValidatorDirectory interface {
	Get(ctx context.Context, address string) (*validators.Validator, error)
	UpdateReputation(ctx context.Context, address string, accepted bool, bonus float64) (*validators.Validator, error)
}

// Recruiter picks and notifies validators for a project that was created
// without any. It returns the addresses to authorize.
type Recruiter interface {
	Recruit(ctx context.Context, p *Project) ([]string, error)
}

// Engine drives the escrow lifecycle of projects. Every mutation of a project
// happens under its lock; ledger settlement runs outside the lock behind a
// persisted in-flight marker so release and clawback exclude each other.
type Engine struct {
	repo      Repository
	ledger    ledger.Ledger
	directory ValidatorDirectory
	locks     locking.Locker
	machine   *workflows.StateMachine
	recruiter Recruiter
	archiver  Archiver
	cfg       EngineConfig
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates an escrow engine
func NewEngine(
	repo Repository,
	l ledger.Ledger,
	directory ValidatorDirectory,
	locks locking.Locker,
	cfg EngineConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *Engine {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Engine{
		repo:      repo,
		ledger:    l,
		directory: directory,
		locks:     locks,
		machine:   workflows.NewStateMachine(statusTransitions),
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SetRecruiter installs the validator recruiter used by Create
func (e *Engine) SetRecruiter(r Recruiter) {
	e.recruiter = r
}

// SetArchiver installs the evidence archiver used on terminal transitions
func (e *Engine) SetArchiver(a Archiver) {
	e.archiver = a
}

// Create validates the request, locks the funds on the ledger and stores a
// PENDING project. Nothing is stored if the hold cannot be created.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Project, error) {
	now := e.now()
	if err := validateCreate(req, now); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	destination := req.Beneficiary
	if destination == "" {
		destination = e.cfg.PoolAddress
	}

	hold, err := e.ledger.CreateHold(ctx, ledger.HoldRequest{
		Reference:   id,
		Amount:      req.Amount,
		Destination: destination,
		FinishAfter: req.Deadline,
		CancelAfter: req.Deadline.Add(e.cfg.HoldGracePeriod),
	})
	if err != nil {
		e.metrics.LedgerErrors.With("op", "create").Add(1)
		return nil, fmt.Errorf("failed to create hold: %w", ledgerError(err))
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = validators.UrgencyMedium
	}

	p := &Project{
		ID:          id,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    req.Category,
		Location:    req.Location,
		Amount:      req.Amount,
		Beneficiary: req.Beneficiary,
		Urgency:     urgency,
		RiskLevel:   req.RiskLevel,
		Status:      StatusPending,
		Conditions: Conditions{
			PhotosRequired:     req.PhotosRequired,
			ValidatorsRequired: req.ValidatorsRequired,
			Deadline:           req.Deadline,
			GeoFence:           req.GeoFence,
		},
		Validators: uniqueAddresses(req.Validators),
		Proofs:     []ValidationProof{},
		Hold:       &hold,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.repo.Create(ctx, p); err != nil {
		if _, cerr := e.ledger.CancelHold(ctx, hold); cerr != nil {
			e.logger.Error("Failed to cancel orphaned hold",
				zap.String("hold_id", hold.ID),
				zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to save project: %w", err)
	}

	e.metrics.ProjectsCreated.Add(1)
	e.logger.Info("Project created",
		zap.String("project_id", p.ID),
		zap.String("category", string(p.Category)),
		zap.Float64("amount", p.Amount),
		zap.Time("deadline", p.Conditions.Deadline))

	if len(p.Validators) == 0 && e.recruiter != nil {
		addresses, err := e.recruiter.Recruit(ctx, p.Clone())
		if err != nil {
			e.logger.Warn("Validator recruitment failed",
				zap.String("project_id", p.ID),
				zap.Error(err))
		} else if len(addresses) > 0 {
			updated, err := e.AuthorizeValidators(ctx, p.ID, addresses)
			if err != nil {
				e.logger.Warn("Failed to authorize recruited validators",
					zap.String("project_id", p.ID),
					zap.Error(err))
			} else {
				p = updated
			}
		}
	}
	return p, nil
}

// AuthorizeValidators adds addresses to the set allowed to submit proofs
func (e *Engine) AuthorizeValidators(ctx context.Context, id string, addresses []string) (*Project, error) {
	return e.withProject(ctx, id, func(p *Project) (bool, error) {
		if p.Status.IsTerminal() {
			return false, ErrAlreadyTerminal
		}
		before := len(p.Validators)
		p.Validators = uniqueAddresses(append(p.Validators, addresses...))
		return len(p.Validators) != before, nil
	})
}

// AddProof accepts a validator's attestation. Rejected proofs leave the
// project untouched. When the proof completes the release conditions the
// funds are released before returning; a failed release is reported with
// ErrReleaseFailed while the proof itself stays recorded.
func (e *Engine) AddProof(ctx context.Context, id string, sub ProofSubmission) (*Project, error) {
	sub.ValidatorAddress = strings.TrimSpace(sub.ValidatorAddress)
	if sub.ValidatorAddress == "" || strings.TrimSpace(sub.PhotoURL) == "" {
		return nil, fmt.Errorf("%w: validator address and photo url are required", ErrInvalidProof)
	}
	if !sub.PhotoGPS.Coordinate().Valid() {
		return nil, fmt.Errorf("%w: photo coordinates out of range", ErrInvalidProof)
	}

	name := sub.ValidatorName
	reputation := 0.0
	v, err := e.directory.Get(ctx, sub.ValidatorAddress)
	switch {
	case err == nil:
		reputation = v.Reputation
		if name == "" {
			name = v.Name
		}
	case errors.Is(err, validators.ErrValidatorNotFound):
		// unregistered validators may attest but never count as high-trust
	default:
		return nil, fmt.Errorf("failed to load validator: %w", err)
	}

	var (
		from         Status
		releaseReady bool
	)
	p, err := e.withProject(ctx, id, func(p *Project) (bool, error) {
		if p.Status.IsTerminal() {
			return false, ErrAlreadyTerminal
		}
		if !p.IsAuthorized(sub.ValidatorAddress) {
			return false, ErrUnauthorizedValidator
		}
		if p.HasProofFrom(sub.ValidatorAddress) {
			return false, ErrDuplicateProof
		}
		if fence := p.Conditions.GeoFence; fence != nil {
			f := fence.Fence()
			pos := sub.PhotoGPS.Coordinate()
			if !f.Contains(pos) {
				return false, fmt.Errorf("%w: %.0fm from center, radius %.0fm",
					ErrOutOfRange, f.DistanceMeters(pos), f.RadiusMeters)
			}
		}

		now := e.now()
		from = p.Status
		p.Proofs = append(p.Proofs, ValidationProof{
			ValidatorAddress:    sub.ValidatorAddress,
			ValidatorName:       name,
			ValidatorReputation: reputation,
			PhotoURL:            sub.PhotoURL,
			PhotoGPS:            sub.PhotoGPS,
			Signature:           sub.Signature,
			Digest:              proofDigest(p.ID, sub),
			ApprovedAt:          now,
		})
		e.recount(p)

		if p.Status == StatusAlert {
			return true, nil
		}
		if p.ConditionsMet == nil && p.Conditions.ThresholdsMet() && now.Before(p.Conditions.Deadline) {
			p.ConditionsMet = &now
		}
		if p.ConditionsMet != nil {
			releaseReady = true
			return true, nil
		}
		required := float64(p.Conditions.ValidatorsRequired) * e.cfg.SoftProgressRatio
		if p.Status == StatusPending && float64(p.Conditions.ValidatorsApproved) >= required {
			if err := e.transition(p, StatusInProgress); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		e.recordRejection(ctx, id, sub.ValidatorAddress, err)
		return p, err
	}

	e.metrics.ProofsAccepted.Add(1)
	if p.Status != from {
		e.metrics.Transitions.With("status", string(p.Status)).Add(1)
	}
	e.logger.Info("Proof accepted",
		zap.String("project_id", id),
		zap.String("validator", sub.ValidatorAddress),
		zap.Float64("reputation", reputation),
		zap.Int("photos_received", p.Conditions.PhotosReceived),
		zap.Int("validators_approved", p.Conditions.ValidatorsApproved))

	if _, err := e.directory.UpdateReputation(ctx, sub.ValidatorAddress, true, 0); err != nil &&
		!errors.Is(err, validators.ErrValidatorNotFound) {
		e.logger.Error("Failed to update validator reputation",
			zap.String("validator", sub.ValidatorAddress),
			zap.Error(err))
	}

	if !releaseReady {
		return p, nil
	}

	released, err := e.Release(ctx, id)
	switch {
	case err == nil:
		return released, nil
	case errors.Is(err, ErrOperationInProgress), errors.Is(err, ErrAlreadyTerminal):
		// another caller owns the settlement
		return e.latest(ctx, p), nil
	default:
		return e.latest(ctx, p), fmt.Errorf("%w: %w", ErrReleaseFailed, err)
	}
}

// Release finishes the hold of a project whose conditions are met and marks
// it FUNDED. A ledger failure leaves the prior status in place.
func (e *Engine) Release(ctx context.Context, id string) (*Project, error) {
	p, err := e.beginSettlement(ctx, id, OpRelease, nil, func(p *Project, now time.Time) error {
		if p.Status == StatusAlert {
			return ErrConditionsNotMet
		}
		if p.ConditionsMet == nil && !(p.Conditions.ThresholdsMet() && now.Before(p.Conditions.Deadline)) {
			return ErrConditionsNotMet
		}
		return nil
	})
	if err != nil {
		return p, err
	}

	start := time.Now()
	ref, err := e.ledger.FinishHold(ctx, *p.Hold)
	e.metrics.SettlementSeconds.With("op", "finish").Observe(time.Since(start).Seconds())
	if err != nil && !ledger.AlreadyFinished(err) {
		e.metrics.LedgerErrors.With("op", "finish").Add(1)
		e.abortSettlement(ctx, id, OpRelease)
		e.logger.Error("Release failed",
			zap.String("project_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to release project %s: %w", id, ledgerError(err))
	}
	return e.commitSettlement(ctx, id, OpRelease, ref)
}

// EvaluateDeadline moves an overdue project whose conditions were never met
// to ALERT. It never touches the ledger.
func (e *Engine) EvaluateDeadline(ctx context.Context, id string) (*Project, error) {
	alerted := false
	p, err := e.withProject(ctx, id, func(p *Project) (bool, error) {
		now := e.now()
		if p.Status.IsTerminal() || p.Status == StatusAlert {
			return false, nil
		}
		if !now.After(p.Conditions.Deadline) {
			return false, nil
		}
		if p.ConditionsMet != nil || p.PendingOp != OpNone {
			return false, nil
		}
		if err := e.transition(p, StatusAlert); err != nil {
			return false, err
		}
		p.AlertedAt = &now
		alerted = true
		return true, nil
	})
	if err != nil {
		return p, err
	}
	if alerted {
		e.metrics.Transitions.With("status", string(StatusAlert)).Add(1)
		e.logger.Warn("Project deadline missed",
			zap.String("project_id", id),
			zap.Int("photos_received", p.Conditions.PhotosReceived),
			zap.Int("validators_approved", p.Conditions.ValidatorsApproved))
	}
	return p, nil
}

// Clawback cancels the hold of an ALERT project and marks it CANCELLED. It
// is refused before the deadline whatever the project state, and while a
// release is in flight.
func (e *Engine) Clawback(ctx context.Context, id string) (*Project, error) {
	tooEarly := func(p *Project, now time.Time) error {
		if now.Before(p.Conditions.Deadline) {
			return ErrClawbackTooEarly
		}
		return nil
	}
	p, err := e.beginSettlement(ctx, id, OpClawback, tooEarly, func(p *Project, now time.Time) error {
		if p.Status != StatusAlert {
			return ErrNotAlerted
		}
		return nil
	})
	if err != nil {
		if IsOrdering(err) {
			e.logger.Warn("Clawback refused",
				zap.String("project_id", id),
				zap.Error(err))
		}
		return p, err
	}

	start := time.Now()
	ref, err := e.ledger.CancelHold(ctx, *p.Hold)
	e.metrics.SettlementSeconds.With("op", "cancel").Observe(time.Since(start).Seconds())
	if err != nil && !ledger.AlreadyCancelled(err) {
		e.metrics.LedgerErrors.With("op", "cancel").Add(1)
		e.abortSettlement(ctx, id, OpClawback)
		e.logger.Error("Clawback failed",
			zap.String("project_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to claw back project %s: %w", id, ledgerError(err))
	}
	return e.commitSettlement(ctx, id, OpClawback, ref)
}

// Get returns a project by ID
func (e *Engine) Get(ctx context.Context, id string) (*Project, error) {
	p, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// List returns every project in creation order
func (e *Engine) List(ctx context.Context) ([]*Project, error) {
	return e.repo.List(ctx)
}

// ListOpen returns the projects that are not yet FUNDED or CANCELLED
func (e *Engine) ListOpen(ctx context.Context) ([]*Project, error) {
	return e.repo.ListOpen(ctx)
}

// Stats aggregates the portfolio by status and category
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	all, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	stats := &Stats{
		Total:      len(all),
		ByStatus:   make(map[Status]int),
		ByCategory: make(map[Category]int),
	}
	for _, p := range all {
		stats.ByStatus[p.Status]++
		stats.ByCategory[p.Category]++
		stats.TotalAmount += p.Amount
		if p.Status == StatusFunded {
			stats.TotalDeployed += p.Amount
		}
	}
	return stats, nil
}

// Map renders every project as a coloured GeoJSON pin
func (e *Engine) Map(ctx context.Context) (*geojson.FeatureCollection, error) {
	all, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	now := e.now()
	pins := make([]geospatial.Pin, 0, len(all))
	for _, p := range all {
		pins = append(pins, geospatial.Pin{
			ID:       p.ID,
			Location: p.Location.Coordinate(),
			Props: map[string]interface{}{
				"title":          p.Title,
				"category":       string(p.Category),
				"status":         string(p.Status),
				"pin_color":      p.PinColor(),
				"amount":         p.Amount,
				"days_remaining": p.DaysRemaining(now),
				"days_overdue":   p.DaysOverdue(now),
			},
		})
	}
	return geospatial.PinCollection(pins), nil
}

// Now is the engine's clock
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) withProject(ctx context.Context, id string, fn func(p *Project) (bool, error)) (*Project, error) {
	unlock, err := e.locks.Lock(ctx, "project:"+id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock project: %w", err)
	}
	defer unlock()

	p, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dirty, err := fn(p)
	if err != nil {
		return p, err
	}
	if !dirty {
		return p, nil
	}
	p.UpdatedAt = e.now()
	if err := e.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	return p, nil
}

func (e *Engine) transition(p *Project, to Status) error {
	if err := e.machine.Transition(string(p.Status), string(to)); err != nil {
		return err
	}
	p.Status = to
	return nil
}

// recount derives the condition counters from the accepted proofs
func (e *Engine) recount(p *Project) {
	approved := 0
	for _, proof := range p.Proofs {
		if proof.ValidatorReputation >= e.cfg.HighTrustReputation {
			approved++
		}
	}
	p.Conditions.PhotosReceived = len(p.Proofs)
	p.Conditions.ValidatorsApproved = approved
}

// beginSettlement marks op in flight. guard runs before the settled and
// in-flight checks, check after them.
func (e *Engine) beginSettlement(ctx context.Context, id string, op Operation, guard, check func(p *Project, now time.Time) error) (*Project, error) {
	return e.withProject(ctx, id, func(p *Project) (bool, error) {
		now := e.now()
		if guard != nil {
			if err := guard(p, now); err != nil {
				return false, err
			}
		}
		if p.Status.IsTerminal() {
			return false, ErrAlreadyTerminal
		}
		if p.PendingOp != OpNone && !e.pendingExpired(p, now) {
			return false, fmt.Errorf("%w: %s", ErrOperationInProgress, strings.ToLower(string(p.PendingOp)))
		}
		if err := check(p, now); err != nil {
			return false, err
		}
		if p.Hold == nil {
			return false, fmt.Errorf("project %s has no ledger hold", p.ID)
		}
		p.PendingOp = op
		p.PendingSince = &now
		return true, nil
	})
}

func (e *Engine) pendingExpired(p *Project, now time.Time) bool {
	return p.PendingSince != nil && e.cfg.PendingOpTimeout > 0 && now.Sub(*p.PendingSince) > e.cfg.PendingOpTimeout
}

func (e *Engine) abortSettlement(ctx context.Context, id string, op Operation) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	_, err := e.withProject(cctx, id, func(p *Project) (bool, error) {
		if p.PendingOp != op {
			return false, nil
		}
		p.PendingOp = OpNone
		p.PendingSince = nil
		return true, nil
	})
	if err != nil {
		e.logger.Error("Failed to clear settlement marker",
			zap.String("project_id", id),
			zap.String("op", string(op)),
			zap.Error(err))
	}
}

func (e *Engine) commitSettlement(ctx context.Context, id string, op Operation, ref ledger.TxRef) (*Project, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	to := StatusFunded
	if op == OpClawback {
		to = StatusCancelled
	}

	changed := false
	p, err := e.withProject(cctx, id, func(p *Project) (bool, error) {
		now := e.now()
		if p.Status != to {
			if err := e.transition(p, to); err != nil {
				return false, err
			}
			changed = true
			if op == OpRelease {
				p.FundedAt = &now
				p.ReleaseTx = ref.Hash
			} else {
				p.CancelledAt = &now
				p.CancelTx = ref.Hash
			}
		}
		p.PendingOp = OpNone
		p.PendingSince = nil
		return true, nil
	})
	if err != nil {
		e.logger.Error("Ledger settled but project was not updated",
			zap.String("project_id", id),
			zap.String("op", string(op)),
			zap.String("tx", ref.Hash),
			zap.Error(err))
		return nil, err
	}

	if changed {
		e.metrics.Transitions.With("status", string(to)).Add(1)
		e.logger.Info("Project settled",
			zap.String("project_id", id),
			zap.String("status", string(to)),
			zap.String("tx", ref.Hash),
			zap.Float64("amount", p.Amount))
		e.archive(cctx, p)
	}
	return p, nil
}

func (e *Engine) archive(ctx context.Context, p *Project) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.Archive(ctx, p); err != nil {
		e.logger.Warn("Failed to archive project evidence",
			zap.String("project_id", p.ID),
			zap.Error(err))
	}
}

func (e *Engine) recordRejection(ctx context.Context, id, address string, err error) {
	reason := "other"
	switch {
	case errors.Is(err, ErrUnauthorizedValidator):
		reason = "unauthorized"
	case errors.Is(err, ErrDuplicateProof):
		reason = "duplicate"
	case errors.Is(err, ErrOutOfRange):
		reason = "out_of_range"
	case errors.Is(err, ErrAlreadyTerminal):
		reason = "terminal"
	case errors.Is(err, ErrNotFound):
		reason = "not_found"
	}
	e.metrics.ProofsRejected.With("reason", reason).Add(1)
	e.logger.Info("Proof rejected",
		zap.String("project_id", id),
		zap.String("validator", address),
		zap.String("reason", reason),
		zap.Error(err))

	if !errors.Is(err, ErrOutOfRange) {
		return
	}
	if _, uerr := e.directory.UpdateReputation(ctx, address, false, 0); uerr != nil &&
		!errors.Is(uerr, validators.ErrValidatorNotFound) {
		e.logger.Error("Failed to penalize validator",
			zap.String("validator", address),
			zap.Error(uerr))
	}
}

// latest reloads a project, falling back to the copy the caller already has
func (e *Engine) latest(ctx context.Context, fallback *Project) *Project {
	p, err := e.Get(ctx, fallback.ID)
	if err != nil {
		return fallback
	}
	return p
}

func validateCreate(req CreateRequest, now time.Time) error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidSpec)
	case !req.Category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidSpec, req.Category)
	case !(req.Amount > 0) || math.IsInf(req.Amount, 0):
		return fmt.Errorf("%w: amount must be positive", ErrInvalidSpec)
	case !req.Deadline.After(now):
		return fmt.Errorf("%w: deadline must be in the future", ErrInvalidSpec)
	case req.ValidatorsRequired <= 0:
		return fmt.Errorf("%w: validators_required must be positive", ErrInvalidSpec)
	case req.PhotosRequired < 0:
		return fmt.Errorf("%w: photos_required must not be negative", ErrInvalidSpec)
	case !req.Location.Coordinate().Valid():
		return fmt.Errorf("%w: location out of range", ErrInvalidSpec)
	case req.RiskLevel < 0 || req.RiskLevel > 100:
		return fmt.Errorf("%w: risk_level must be within 0-100", ErrInvalidSpec)
	}
	if f := req.GeoFence; f != nil {
		if !(f.RadiusMeters > 0) || !f.Fence().Center.Valid() {
			return fmt.Errorf("%w: geo-fence needs a valid center and positive radius", ErrInvalidSpec)
		}
	}
	switch req.Urgency {
	case "", validators.UrgencyLow, validators.UrgencyMedium, validators.UrgencyHigh:
	default:
		return fmt.Errorf("%w: unknown urgency %q", ErrInvalidSpec, req.Urgency)
	}
	return nil
}

func uniqueAddresses(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// ledgerError keeps the ledger taxonomy on errors from any binding
func ledgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, ledger.ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ledger.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
}

// proofDigest fingerprints the submitted evidence
func proofDigest(projectID string, s ProofSubmission) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%.7f|%.7f|%d|%s",
		projectID, s.ValidatorAddress, s.PhotoURL,
		s.PhotoGPS.Lat, s.PhotoGPS.Lng, s.PhotoGPS.TakenAt.UnixNano(), s.Signature)))
	return hex.EncodeToString(sum[:])
}
