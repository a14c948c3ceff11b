package validators

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/pkg/geospatial"
	"impact-escrow/escrow-engine/pkg/locking"
)

var dakar = geospatial.Coordinate{Lat: 14.6928, Lng: -17.4467}

func newTestRegistry() *Registry {
	return NewRegistry(NewMemoryRepository(), locking.NewKeyedMutex(), DefaultRegistryConfig(), NopMetrics(), zap.NewNop())
}

// northOf returns the point km kilometres due north of c
func northOf(c geospatial.Coordinate, km float64) Location {
	return Location{Lat: c.Lat + km/geospatial.EarthRadiusKm*180/math.Pi, Lng: c.Lng}
}

func TestRegister(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	v, err := r.Register(ctx, RegisterRequest{
		Address:     "rA",
		Name:        "Awa",
		Location:    Location{Country: "Senegal", Lat: dakar.Lat, Lng: dakar.Lng},
		Reputation:  120,
		Specialties: []Category{CategoryWater},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, v.Status)
	assert.Equal(t, 100.0, v.Reputation)
	assert.Equal(t, 24.0, v.AvgResponseHours)
	assert.Zero(t, v.ValidationsCompleted)

	_, err = r.Register(ctx, RegisterRequest{Address: "rA", Name: "Awa again"})
	assert.ErrorIs(t, err, ErrValidatorExists)

	_, err = r.Register(ctx, RegisterRequest{Address: "rB", Name: "Bad", Specialties: []Category{"Mining"}})
	assert.ErrorIs(t, err, ErrInvalidValidator)

	_, err = r.Register(ctx, RegisterRequest{Address: "", Name: "Nobody"})
	assert.ErrorIs(t, err, ErrInvalidValidator)
}

func TestFindNearbyRanksByReputationAndDistance(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterRequest{Address: "far", Name: "Far", Location: northOf(dakar, 50), Reputation: 100, Specialties: []Category{CategoryWater}})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterRequest{Address: "near", Name: "Near", Location: northOf(dakar, 0), Reputation: 90, Specialties: []Category{CategoryWater}})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterRequest{Address: "out", Name: "Out", Location: northOf(dakar, 150), Reputation: 100, Specialties: []Category{CategoryWater}})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterRequest{Address: "tutor", Name: "Tutor", Location: northOf(dakar, 1), Reputation: 100, Specialties: []Category{CategoryEducation}})
	require.NoError(t, err)

	candidates, err := r.FindNearby(ctx, dakar, CategoryWater, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "near", candidates[0].Validator.Address)
	assert.InDelta(t, 93.0, candidates[0].Score, 1e-6)
	assert.Equal(t, "far", candidates[1].Validator.Address)
	assert.InDelta(t, 85.0, candidates[1].Score, 1e-6)
	assert.InDelta(t, 50.0, candidates[1].DistanceKm, 1e-6)

	wide, err := r.FindNearby(ctx, dakar, CategoryWater, 200)
	require.NoError(t, err)
	assert.Len(t, wide, 3)
}

func TestFindNearbyExcludesSuspendedAndReturnsEmpty(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterRequest{Address: "weak", Name: "Weak", Location: northOf(dakar, 1), Reputation: 35, Specialties: []Category{CategoryHealth}})
	require.NoError(t, err)

	v, err := r.UpdateReputation(ctx, "weak", false, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, v.Status)

	candidates, err := r.FindNearby(ctx, dakar, CategoryHealth, 100)
	require.NoError(t, err)
	assert.NotNil(t, candidates)
	assert.Empty(t, candidates)
}

func TestUpdateReputation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	_, err := r.Register(ctx, RegisterRequest{Address: "rA", Name: "Awa", Reputation: 80, Specialties: []Category{CategoryWater}})
	require.NoError(t, err)

	v, err := r.UpdateReputation(ctx, "rA", true, 0)
	require.NoError(t, err)
	assert.Equal(t, 85.0, v.Reputation)

	v, err = r.UpdateReputation(ctx, "rA", true, 20)
	require.NoError(t, err)
	assert.Equal(t, 95.0, v.Reputation)

	v, err = r.UpdateReputation(ctx, "rA", true, 3)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v.Reputation)

	v, err = r.UpdateReputation(ctx, "rA", false, 0)
	require.NoError(t, err)
	assert.Equal(t, 90.0, v.Reputation)
	assert.Equal(t, 4, v.ValidationsCompleted)
	assert.Equal(t, 3, v.ValidationsAccepted)
	assert.Equal(t, 1, v.ValidationsRejected)
	assert.Equal(t, fixed, v.LastActiveAt)

	_, err = r.UpdateReputation(ctx, "missing", true, 0)
	assert.ErrorIs(t, err, ErrValidatorNotFound)
}

func TestUpdateReputationConcurrentSameValidator(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterRequest{Address: "rA", Name: "Awa", Reputation: 0, Specialties: []Category{CategoryWater}})
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = r.UpdateReputation(ctx, "rA", true, 0)
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	v, err := r.Get(ctx, "rA")
	require.NoError(t, err)
	assert.Equal(t, 10, v.ValidationsAccepted)
	assert.Equal(t, 50.0, v.Reputation)
}

func TestStats(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterRequest{Address: "rA", Name: "Awa", Reputation: 90})
	require.NoError(t, err)

	stats, err := r.Stats(ctx, "rA")
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.SuccessRate)

	for _, ok := range []bool{true, true, true, false} {
		_, err = r.UpdateReputation(ctx, "rA", ok, 0)
		require.NoError(t, err)
	}

	stats, err = r.Stats(ctx, "rA")
	require.NoError(t, err)
	assert.Equal(t, 75.0, stats.SuccessRate)
	assert.Equal(t, 4, stats.TotalValidations)
	assert.Equal(t, 150.0, stats.RewardsEarned)
	assert.Equal(t, 24.0, stats.AvgResponseHours)

	_, err = r.Stats(ctx, "missing")
	assert.ErrorIs(t, err, ErrValidatorNotFound)
}

func TestSeedDefaults(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	n, err := SeedDefaults(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultNetwork), n)

	n, err = SeedDefaults(ctx, r)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Fatou in Thiès is the only education validator within reach of Dakar
	candidates, err := r.FindNearby(ctx, dakar, CategoryEducation, 100)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Fatou Sow", candidates[0].Validator.Name)
}

func TestReputationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reputation stays in [0,100] and low scores suspend", prop.ForAll(
		func(initial float64, outcomes []bool, bonus float64) bool {
			r := newTestRegistry()
			ctx := context.Background()
			if _, err := r.Register(ctx, RegisterRequest{Address: "v", Name: "V", Reputation: initial}); err != nil {
				return false
			}

			wasSuspended := false
			for _, accepted := range outcomes {
				v, err := r.UpdateReputation(ctx, "v", accepted, bonus)
				if err != nil {
					return false
				}
				if v.Reputation < 0 || v.Reputation > 100 {
					return false
				}
				if v.Reputation < 30 && v.Status != StatusSuspended {
					return false
				}
				if wasSuspended && v.Status != StatusSuspended {
					return false
				}
				wasSuspended = v.Status == StatusSuspended
			}
			return true
		},
		gen.Float64Range(0, 100),
		gen.SliceOf(gen.Bool()),
		gen.Float64Range(0, 20),
	))

	properties.TestingRun(t)
}
