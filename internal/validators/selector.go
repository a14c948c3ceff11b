package validators

import (
	"math"
	"sort"

	"impact-escrow/escrow-engine/pkg/geospatial"
)

// Urgency drives how strongly slow responders are penalised
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Multiplier is the hours-to-penalty factor for response-time fitness
func (u Urgency) Multiplier() float64 {
	switch u {
	case UrgencyHigh:
		return 2.0
	case UrgencyMedium:
		return 1.5
	default:
		return 1.0
	}
}

// Recommendation labels an overall selection score
type Recommendation string

const (
	HighlyRecommended Recommendation = "HIGHLY_RECOMMENDED"
	Recommended       Recommendation = "RECOMMENDED"
	Acceptable        Recommendation = "ACCEPTABLE"
	NotRecommended    Recommendation = "NOT_RECOMMENDED"
)

// RecommendationFor maps a 0-100 score onto its label
func RecommendationFor(score float64) Recommendation {
	switch {
	case score >= 85:
		return HighlyRecommended
	case score >= 70:
		return Recommended
	case score >= 50:
		return Acceptable
	default:
		return NotRecommended
	}
}

// ProjectContext is what the selector needs to know about a project
type ProjectContext struct {
	Location  geospatial.Coordinate `json:"location"`
	Category  Category              `json:"category"`
	Urgency   Urgency               `json:"urgency"`
	Amount    float64               `json:"amount"`
	RiskLevel float64               `json:"risk_level"`
}

// Profile is a scoring input for one candidate
type Profile struct {
	Address          string                `json:"address"`
	Location         geospatial.Coordinate `json:"location"`
	Reputation       float64               `json:"reputation"`
	Specialties      []Category            `json:"specialties"`
	AvgResponseHours float64               `json:"avg_response_hours"`
}

// ProfileOf builds the scoring profile of a registered validator
func ProfileOf(v *Validator) Profile {
	return Profile{
		Address:          v.Address,
		Location:         v.Location.Coordinate(),
		Reputation:       v.Reputation,
		Specialties:      v.Specialties,
		AvgResponseHours: v.AvgResponseHours,
	}
}

// Score is the weighted evaluation of one candidate
type Score struct {
	Address        string         `json:"address"`
	Total          float64        `json:"total"`
	Proximity      float64        `json:"proximity"`
	Reputation     float64        `json:"reputation"`
	Specialization float64        `json:"specialization"`
	ResponseTime   float64        `json:"response_time"`
	DistanceKm     float64        `json:"distance_km"`
	Recommendation Recommendation `json:"recommendation"`
}

// SelectorWeights are the axis weights of the overall score
type SelectorWeights struct {
	Proximity      float64 `json:"proximity"`
	Reputation     float64 `json:"reputation"`
	Specialization float64 `json:"specialization"`
	ResponseTime   float64 `json:"response_time"`
}

// DefaultSelectorWeights returns the standard axis weights
func DefaultSelectorWeights() SelectorWeights {
	return SelectorWeights{
		Proximity:      0.30,
		Reputation:     0.35,
		Specialization: 0.20,
		ResponseTime:   0.15,
	}
}

// Selector ranks candidate validators for a project
type Selector struct {
	weights SelectorWeights
}

// NewSelector creates a selector with the given weights
func NewSelector(weights SelectorWeights) *Selector {
	return &Selector{weights: weights}
}

// ScoreCandidate evaluates one candidate against a project
func (s *Selector) ScoreCandidate(project ProjectContext, p Profile) Score {
	distance := geospatial.Distance(project.Location, p.Location, geospatial.Kilometers)

	proximity := math.Max(0, 100-distance/10)
	specialization := 50.0
	for _, c := range p.Specialties {
		if c == project.Category {
			specialization = 100
			break
		}
	}
	response := math.Max(0, 100-p.AvgResponseHours*project.Urgency.Multiplier())

	total := s.weights.Proximity*proximity +
		s.weights.Reputation*p.Reputation +
		s.weights.Specialization*specialization +
		s.weights.ResponseTime*response

	return Score{
		Address:        p.Address,
		Total:          total,
		Proximity:      proximity,
		Reputation:     p.Reputation,
		Specialization: specialization,
		ResponseTime:   response,
		DistanceKm:     distance,
		Recommendation: RecommendationFor(total),
	}
}

// SelectOptimalValidators scores every candidate and returns the best
// requiredCount. Equal scores keep candidate order.
func (s *Selector) SelectOptimalValidators(project ProjectContext, candidates []Profile, requiredCount int) []Score {
	if requiredCount <= 0 || len(candidates) == 0 {
		return []Score{}
	}

	scores := make([]Score, len(candidates))
	for i, c := range candidates {
		scores[i] = s.ScoreCandidate(project, c)
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Total > scores[j].Total
	})

	if len(scores) > requiredCount {
		scores = scores[:requiredCount]
	}
	return scores
}

// PredictSuccessProbability estimates the chance the selection completes the
// project, discounted for large amounts and risky projects.
func (s *Selector) PredictSuccessProbability(project ProjectContext, selected []Score) float64 {
	if len(selected) == 0 {
		return 0
	}

	sum := 0.0
	for _, sc := range selected {
		sum += sc.Total
	}
	avg := sum / float64(len(selected))

	amountFactor := 1.0
	if project.Amount > 0 {
		amountFactor = math.Min(1, 10000/project.Amount)
	}
	riskFactor := 1 - project.RiskLevel*0.3/100

	return clamp(avg/100*amountFactor*riskFactor, 0, 1)
}
