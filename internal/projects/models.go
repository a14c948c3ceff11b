package projects

import (
	"math"
	"time"

	"impact-escrow/escrow-engine/internal/ledger"
	"impact-escrow/escrow-engine/internal/validators"
	"impact-escrow/escrow-engine/pkg/geospatial"
)

// Status is the escrow lifecycle state of a project
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFunded     Status = "FUNDED"
	StatusAlert      Status = "ALERT"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusFunded || s == StatusCancelled
}

// Operation marks a ledger settlement that is in flight for a project
type Operation string

const (
	OpNone     Operation = ""
	OpRelease  Operation = "RELEASE"
	OpClawback Operation = "CLAWBACK"
)

// Category aliases the validator specialty taxonomy
type Category = validators.Category

// Location is where the project is built
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Country string  `json:"country"`
	Region  string  `json:"region"`
}

// Coordinate returns the project site position
func (l Location) Coordinate() geospatial.Coordinate {
	return geospatial.Coordinate{Lat: l.Lat, Lng: l.Lng}
}

// GeoFence restricts where proof photos may be taken
type GeoFence struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Fence converts to the geospatial representation
func (g GeoFence) Fence() geospatial.Fence {
	return geospatial.Fence{
		Center:       geospatial.Coordinate{Lat: g.Lat, Lng: g.Lng},
		RadiusMeters: g.RadiusMeters,
	}
}

// Conditions are the release thresholds of a project
type Conditions struct {
	PhotosRequired     int       `json:"photos_required"`
	PhotosReceived     int       `json:"photos_received"`
	ValidatorsRequired int       `json:"validators_required"`
	ValidatorsApproved int       `json:"validators_approved"`
	Deadline           time.Time `json:"deadline"`
	GeoFence           *GeoFence `json:"geo_fence,omitempty"`
}

// ThresholdsMet reports whether enough photos and high-trust approvals exist
func (c Conditions) ThresholdsMet() bool {
	return c.PhotosReceived >= c.PhotosRequired && c.ValidatorsApproved >= c.ValidatorsRequired
}

// PhotoGPS is where and when a proof photo was taken
type PhotoGPS struct {
	Lat     float64   `json:"lat"`
	Lng     float64   `json:"lng"`
	TakenAt time.Time `json:"taken_at"`
}

// Coordinate returns the photo position
func (g PhotoGPS) Coordinate() geospatial.Coordinate {
	return geospatial.Coordinate{Lat: g.Lat, Lng: g.Lng}
}

// ValidationProof is an accepted attestation. It is never modified.
type ValidationProof struct {
	ValidatorAddress    string    `json:"validator_address"`
	ValidatorName       string    `json:"validator_name"`
	ValidatorReputation float64   `json:"validator_reputation"`
	PhotoURL            string    `json:"photo_url"`
	PhotoGPS            PhotoGPS  `json:"photo_gps"`
	Signature           string    `json:"signature,omitempty"`
	Digest              string    `json:"digest"`
	ApprovedAt          time.Time `json:"approved_at"`
}

// Project is a funded micro-project and its escrow state
type Project struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	Category      Category           `json:"category"`
	Location      Location           `json:"location"`
	Amount        float64            `json:"amount"`
	Beneficiary   string             `json:"beneficiary,omitempty"`
	Urgency       validators.Urgency `json:"urgency"`
	RiskLevel     float64            `json:"risk_level"`
	Status        Status             `json:"status"`
	Conditions    Conditions         `json:"conditions"`
	Validators    []string           `json:"validators"`
	Proofs        []ValidationProof  `json:"proofs"`
	Hold          *ledger.Hold       `json:"hold,omitempty"`
	PendingOp     Operation          `json:"pending_op,omitempty"`
	PendingSince  *time.Time         `json:"pending_since,omitempty"`
	ConditionsMet *time.Time         `json:"conditions_met_at,omitempty"`
	ReleaseTx     string             `json:"release_tx,omitempty"`
	CancelTx      string             `json:"cancel_tx,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	FundedAt      *time.Time         `json:"funded_at,omitempty"`
	AlertedAt     *time.Time         `json:"alerted_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
}

// IsAuthorized reports whether address may submit proofs
func (p *Project) IsAuthorized(address string) bool {
	for _, v := range p.Validators {
		if v == address {
			return true
		}
	}
	return false
}

// HasProofFrom reports whether address already has an accepted proof
func (p *Project) HasProofFrom(address string) bool {
	for _, proof := range p.Proofs {
		if proof.ValidatorAddress == address {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Validators = append([]string(nil), p.Validators...)
	cp.Proofs = append([]ValidationProof(nil), p.Proofs...)
	if p.Conditions.GeoFence != nil {
		fence := *p.Conditions.GeoFence
		cp.Conditions.GeoFence = &fence
	}
	if p.Hold != nil {
		hold := *p.Hold
		cp.Hold = &hold
	}
	cp.PendingSince = cloneTime(p.PendingSince)
	cp.ConditionsMet = cloneTime(p.ConditionsMet)
	cp.FundedAt = cloneTime(p.FundedAt)
	cp.AlertedAt = cloneTime(p.AlertedAt)
	cp.CancelledAt = cloneTime(p.CancelledAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PinColor is the map marker colour of a project
func (p *Project) PinColor() string {
	switch p.Status {
	case StatusFunded:
		return "green"
	case StatusAlert, StatusCancelled:
		return "red"
	default:
		return "yellow"
	}
}

// DaysRemaining returns whole days until the deadline, 0 once it has passed
func (p *Project) DaysRemaining(now time.Time) int {
	left := p.Conditions.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// DaysOverdue returns whole days past the deadline, 0 before it
func (p *Project) DaysOverdue(now time.Time) int {
	over := now.Sub(p.Conditions.Deadline)
	if over <= 0 {
		return 0
	}
	return int(math.Floor(over.Hours() / 24))
}

// ProofSubmission is a validator's attestation before it is accepted
type ProofSubmission struct {
	ValidatorAddress string   `json:"validator_address" binding:"required"`
	ValidatorName    string   `json:"validator_name"`
	PhotoURL         string   `json:"photo_url" binding:"required"`
	PhotoGPS         PhotoGPS `json:"photo_gps"`
	Signature        string   `json:"signature"`
}

// CreateRequest is the input to Engine.Create
type CreateRequest struct {
	Title              string             `json:"title" binding:"required"`
	Description        string             `json:"description"`
	Category           Category           `json:"category" binding:"required"`
	Location           Location           `json:"location"`
	Amount             float64            `json:"amount"`
	Beneficiary        string             `json:"beneficiary"`
	Urgency            validators.Urgency `json:"urgency"`
	RiskLevel          float64            `json:"risk_level"`
	PhotosRequired     int                `json:"photos_required"`
	ValidatorsRequired int                `json:"validators_required"`
	Deadline           time.Time          `json:"deadline"`
	GeoFence           *GeoFence          `json:"geo_fence,omitempty"`
	Validators         []string           `json:"validators"`
}

// Stats aggregates the project portfolio
type Stats struct {
	Total         int              `json:"total"`
	ByStatus      map[Status]int   `json:"by_status"`
	ByCategory    map[Category]int `json:"by_category"`
	TotalAmount   float64          `json:"total_amount"`
	TotalDeployed float64          `json:"total_deployed"`
}

// View is the API projection of a project
type View struct {
	*Project
	PinColor      string `json:"pin_color"`
	DaysRemaining int    `json:"days_remaining"`
	DaysOverdue   int    `json:"days_overdue"`
}

// NewView builds the API projection at time now
func NewView(p *Project, now time.Time) View {
	return View{
		Project:       p,
		PinColor:      p.PinColor(),
		DaysRemaining: p.DaysRemaining(now),
		DaysOverdue:   p.DaysOverdue(now),
	}
}
