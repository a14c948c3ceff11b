package validators

import (
	"time"

	"impact-escrow/escrow-engine/pkg/geospatial"
)

// Category is a project domain a validator can attest to
type Category string

const (
	CategoryWater          Category = "Water"
	CategoryEducation      Category = "Education"
	CategoryHealth         Category = "Health"
	CategoryClimate        Category = "Climate"
	CategoryInfrastructure Category = "Infrastructure"
)

// Valid reports whether c is one of the supported categories
func (c Category) Valid() bool {
	switch c {
	case CategoryWater, CategoryEducation, CategoryHealth, CategoryClimate, CategoryInfrastructure:
		return true
	}
	return false
}

// Status is the lifecycle state of a validator
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// Location is where a validator operates from
type Location struct {
	Country string  `json:"country" db:"country"`
	Region  string  `json:"region" db:"region"`
	Lat     float64 `json:"lat" db:"lat"`
	Lng     float64 `json:"lng" db:"lng"`
}

// Coordinate returns the validator position for distance calculations
func (l Location) Coordinate() geospatial.Coordinate {
	return geospatial.Coordinate{Lat: l.Lat, Lng: l.Lng}
}

// Contact holds the channels a validator can be reached on
type Contact struct {
	Email    string `json:"email,omitempty" db:"contact_email"`
	Phone    string `json:"phone,omitempty" db:"contact_phone"`
	Telegram string `json:"telegram,omitempty" db:"contact_telegram"`
	Twitter  string `json:"twitter,omitempty" db:"contact_twitter"`
}

// Validator is a field agent who attests project completion
type Validator struct {
	Address              string     `json:"address"`
	Name                 string     `json:"name"`
	Location             Location   `json:"location"`
	Reputation           float64    `json:"reputation"`
	Specialties          []Category `json:"specialties"`
	ValidationsCompleted int        `json:"validations_completed"`
	ValidationsAccepted  int        `json:"validations_accepted"`
	ValidationsRejected  int        `json:"validations_rejected"`
	AvgResponseHours     float64    `json:"avg_response_hours"`
	JoinedAt             time.Time  `json:"joined_at"`
	LastActiveAt         time.Time  `json:"last_active_at"`
	Status               Status     `json:"status"`
	Contact              Contact    `json:"contact"`
}

// HasSpecialty reports whether the validator covers category c
func (v *Validator) HasSpecialty(c Category) bool {
	for _, s := range v.Specialties {
		if s == c {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stored records are never shared
func (v *Validator) Clone() *Validator {
	if v == nil {
		return nil
	}
	cp := *v
	cp.Specialties = append([]Category(nil), v.Specialties...)
	return &cp
}

// RegisterRequest is the input to Registry.Register
type RegisterRequest struct {
	Address          string     `json:"address" binding:"required"`
	Name             string     `json:"name" binding:"required"`
	Location         Location   `json:"location"`
	Reputation       float64    `json:"reputation"`
	Specialties      []Category `json:"specialties"`
	AvgResponseHours float64    `json:"avg_response_hours"`
	Contact          Contact    `json:"contact"`
}

// Candidate is a validator matched by FindNearby
type Candidate struct {
	Validator  *Validator `json:"validator"`
	DistanceKm float64    `json:"distance_km"`
	Score      float64    `json:"score"`
}

// Stats is a read-only projection of a validator's track record
type Stats struct {
	Address          string  `json:"address"`
	Reputation       float64 `json:"reputation"`
	Status           Status  `json:"status"`
	TotalValidations int     `json:"total_validations"`
	Accepted         int     `json:"accepted"`
	Rejected         int     `json:"rejected"`
	SuccessRate      float64 `json:"success_rate"`
	AvgResponseHours float64 `json:"avg_response_hours"`
	RewardsEarned    float64 `json:"rewards_earned"`
}
