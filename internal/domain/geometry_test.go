package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeCoords(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestBBoxCentroid(t *testing.T) {
	tests := []struct {
		name   string
		coords string
		want   Point
	}{
		{
			name:   "polygon",
			coords: `[[[2.0, 48.0], [3.0, 48.0], [3.0, 49.0], [2.0, 49.0], [2.0, 48.0]]]`,
			want:   Point{Lat: 48.5, Lng: 2.5},
		},
		{
			name:   "multipolygon",
			coords: `[[[[8.5, 41.4], [9.0, 41.4], [9.0, 42.0]]], [[[9.2, 42.5], [9.6, 43.0], [9.4, 42.8]]]]`,
			want:   Point{Lat: 42.2, Lng: 9.05},
		},
		{
			name:   "positions with altitude",
			coords: `[[0, 10, 150], [4, 20, 160]]`,
			want:   Point{Lat: 15, Lng: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coords := decodeCoords(t, tt.coords)
			got, ok := BBoxCentroid(coords)
			require.True(t, ok)
			assert.InDelta(t, tt.want.Lat, got.Lat, 1e-9)
			assert.InDelta(t, tt.want.Lng, got.Lng, 1e-9)
		})
	}
}

func TestBBoxCentroid_NoPositions(t *testing.T) {
	for _, coords := range []any{nil, "x", []any{}, []any{[]any{"a", "b"}}} {
		_, ok := BBoxCentroid(coords)
		assert.False(t, ok)
	}
}

func TestBBoxCentroid_DoesNotMutate(t *testing.T) {
	coords := decodeCoords(t, `[[[1, 2], [3, 4]]]`)
	before, err := json.Marshal(coords)
	require.NoError(t, err)

	_, ok := BBoxCentroid(coords)
	require.True(t, ok)

	after, err := json.Marshal(coords)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestBBoxCentroid_TypedSlices(t *testing.T) {
	got, ok := BBoxCentroid([][]float64{{1, 1}, {3, 5}})
	require.True(t, ok)
	assert.Equal(t, Point{Lat: 3, Lng: 2}, got)
}
