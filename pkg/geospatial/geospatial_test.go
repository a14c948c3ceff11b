package geospatial

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dakar = Coordinate{Lat: 14.6928, Lng: -17.4467}
	thies = Coordinate{Lat: 14.7886, Lng: -16.9262}
	paris = Coordinate{Lat: 48.8566, Lng: 2.3522}
)

func TestDistance(t *testing.T) {
	assert.InDelta(t, 56.977, Distance(dakar, thies, Kilometers), 0.01)
	assert.InDelta(t, 56977, Distance(dakar, thies, Meters), 10)
	assert.InDelta(t, 343.556, Distance(paris, Coordinate{Lat: 51.5074, Lng: -0.1278}, Kilometers), 0.01)
	assert.Equal(t, 0.0, Distance(dakar, dakar, Kilometers))
}

func TestDistanceIsSymmetric(t *testing.T) {
	assert.InDelta(t, Distance(dakar, paris, Kilometers), Distance(paris, dakar, Kilometers), 1e-9)
}

func TestCoordinateValid(t *testing.T) {
	assert.True(t, dakar.Valid())
	assert.False(t, Coordinate{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Coordinate{Lat: 0, Lng: -181}.Valid())
}

func TestFenceContains(t *testing.T) {
	fence := Fence{Center: dakar, RadiusMeters: 200}

	// ~111 m north of the center
	assert.True(t, fence.Contains(Coordinate{Lat: dakar.Lat + 0.001, Lng: dakar.Lng}))
	// ~556 m north of the center
	assert.False(t, fence.Contains(Coordinate{Lat: dakar.Lat + 0.005, Lng: dakar.Lng}))
	assert.InDelta(t, 111.19, fence.DistanceMeters(Coordinate{Lat: dakar.Lat + 0.001, Lng: dakar.Lng}), 0.1)
}

func TestSearchBound(t *testing.T) {
	bound, ok := SearchBound(dakar, 100)
	require.True(t, ok)
	assert.True(t, bound.Contains(thies.Point()))
	assert.False(t, bound.Contains(paris.Point()))

	_, ok = SearchBound(Coordinate{Lat: 10, Lng: 179.9}, 100)
	assert.False(t, ok)
}

func TestPinCollection(t *testing.T) {
	fc := PinCollection([]Pin{
		{ID: "p1", Location: dakar, Props: map[string]interface{}{"color": "green"}},
	})
	require.Len(t, fc.Features, 1)

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"color":"green"`)
	assert.Contains(t, string(data), `"id":"p1"`)
}
