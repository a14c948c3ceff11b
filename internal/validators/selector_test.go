package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waterProject() ProjectContext {
	return ProjectContext{
		Location:  dakar,
		Category:  CategoryWater,
		Urgency:   UrgencyMedium,
		Amount:    5000,
		RiskLevel: 20,
	}
}

func TestSelectOptimalValidatorsAppliesWeights(t *testing.T) {
	s := NewSelector(DefaultSelectorWeights())

	near := northOf(dakar, 50)
	far := northOf(dakar, 300)
	candidates := []Profile{
		// non-matching specialty but higher reputation and faster
		{Address: "expert", Location: far.Coordinate(), Reputation: 98, Specialties: []Category{CategoryEducation}, AvgResponseHours: 12},
		{Address: "local", Location: near.Coordinate(), Reputation: 85, Specialties: []Category{CategoryWater}, AvgResponseHours: 24},
	}

	scores := s.SelectOptimalValidators(waterProject(), candidates, 2)
	require.Len(t, scores, 2)

	// local: 0.30*95 + 0.35*85 + 0.20*100 + 0.15*(100-24*1.5)
	assert.Equal(t, "local", scores[0].Address)
	assert.InDelta(t, 87.85, scores[0].Total, 1e-6)
	assert.InDelta(t, 95.0, scores[0].Proximity, 1e-6)
	assert.Equal(t, 100.0, scores[0].Specialization)
	assert.InDelta(t, 64.0, scores[0].ResponseTime, 1e-9)
	assert.Equal(t, HighlyRecommended, scores[0].Recommendation)

	// expert: 0.30*70 + 0.35*98 + 0.20*50 + 0.15*(100-12*1.5)
	assert.Equal(t, "expert", scores[1].Address)
	assert.InDelta(t, 77.6, scores[1].Total, 1e-6)
	assert.Equal(t, Recommended, scores[1].Recommendation)

	p := s.PredictSuccessProbability(waterProject(), scores)
	assert.InDelta(t, (87.85+77.6)/2/100*0.94, p, 1e-6)
}

func TestSelectOptimalValidatorsTopNAndStableTies(t *testing.T) {
	s := NewSelector(DefaultSelectorWeights())
	loc := northOf(dakar, 10).Coordinate()

	candidates := []Profile{
		{Address: "a", Location: loc, Reputation: 90, Specialties: []Category{CategoryWater}, AvgResponseHours: 24},
		{Address: "b", Location: loc, Reputation: 90, Specialties: []Category{CategoryWater}, AvgResponseHours: 24},
		{Address: "c", Location: loc, Reputation: 95, Specialties: []Category{CategoryWater}, AvgResponseHours: 24},
	}

	scores := s.SelectOptimalValidators(waterProject(), candidates, 2)
	require.Len(t, scores, 2)
	assert.Equal(t, "c", scores[0].Address)
	assert.Equal(t, "a", scores[1].Address)

	assert.Empty(t, s.SelectOptimalValidators(waterProject(), candidates, 0))
	assert.Len(t, s.SelectOptimalValidators(waterProject(), candidates, 10), 3)
}

func TestResponseFitnessByUrgency(t *testing.T) {
	s := NewSelector(DefaultSelectorWeights())
	p := Profile{Address: "x", Location: dakar, Reputation: 50, AvgResponseHours: 40}

	project := waterProject()
	project.Urgency = UrgencyHigh
	assert.InDelta(t, 20.0, s.ScoreCandidate(project, p).ResponseTime, 1e-9)

	project.Urgency = UrgencyLow
	assert.InDelta(t, 60.0, s.ScoreCandidate(project, p).ResponseTime, 1e-9)

	p.AvgResponseHours = 80
	project.Urgency = UrgencyHigh
	assert.Equal(t, 0.0, s.ScoreCandidate(project, p).ResponseTime)
}

func TestRecommendationFor(t *testing.T) {
	assert.Equal(t, HighlyRecommended, RecommendationFor(85))
	assert.Equal(t, Recommended, RecommendationFor(84.99))
	assert.Equal(t, Recommended, RecommendationFor(70))
	assert.Equal(t, Acceptable, RecommendationFor(50))
	assert.Equal(t, NotRecommended, RecommendationFor(49.9))
}

func TestPredictSuccessProbability(t *testing.T) {
	s := NewSelector(DefaultSelectorWeights())

	assert.Equal(t, 0.0, s.PredictSuccessProbability(waterProject(), nil))

	big := waterProject()
	big.Amount = 40000
	big.RiskLevel = 0
	p := s.PredictSuccessProbability(big, []Score{{Total: 80}})
	assert.InDelta(t, 0.2, p, 1e-9)

	safe := waterProject()
	safe.RiskLevel = 0
	assert.InDelta(t, 1.0, s.PredictSuccessProbability(safe, []Score{{Total: 100}}), 1e-9)
}
