package domain

import (
	"encoding/json"
	"math"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Centroid is the cached display position of a department.
type Centroid struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type bbox struct {
	minLat, maxLat, minLng, maxLng float64
	empty                          bool
}

func (b *bbox) add(lng, lat float64) {
	if b.empty {
		*b = bbox{minLat: lat, maxLat: lat, minLng: lng, maxLng: lng}
		return
	}
	b.minLat = math.Min(b.minLat, lat)
	b.maxLat = math.Max(b.maxLat, lat)
	b.minLng = math.Min(b.minLng, lng)
	b.maxLng = math.Max(b.maxLng, lng)
}

// BBoxCentroid returns the center of the bounding box of GeoJSON
// coordinates nested to any depth (Polygon, MultiPolygon, ...). Positions are
// [lng, lat, ...]. It returns false when no finite position is found.
func BBoxCentroid(coords any) (Point, bool) {
	b := bbox{empty: true}
	visitPositions(coords, b.add)
	if b.empty {
		return Point{}, false
	}
	return Point{Lat: (b.minLat + b.maxLat) / 2, Lng: (b.minLng + b.maxLng) / 2}, true
}

// visitPositions walks nested arrays and calls fn for each position. It
// never mutates the input.
func visitPositions(node any, fn func(lng, lat float64)) {
	switch n := node.(type) {
	case []any:
		if len(n) >= 2 {
			lng, okLng := coordinate(n[0])
			lat, okLat := coordinate(n[1])
			if okLng && okLat {
				fn(lng, lat)
				return
			}
		}
		for _, child := range n {
			visitPositions(child, fn)
		}
	case []float64:
		if len(n) >= 2 {
			if _, ok := finite(n[0]); ok {
				if _, ok := finite(n[1]); ok {
					fn(n[0], n[1])
				}
			}
		}
	case [][]float64:
		for _, p := range n {
			visitPositions(p, fn)
		}
	}
}

func coordinate(v any) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return finite(c)
	case json.Number:
		f, err := c.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	}
	return 0, false
}
