// Package geojson defines the minimal RFC 7946 feature types the result
// writer streams to disk. It deliberately implements only the shapes the
// engine produces (LineString geometry, flat property maps) rather than the
// full GeoJSON object model.
package geojson

import "encoding/json"

// Geometry is a LineString geometry, or nil when a feature carries no
// geometry (spec §4.4, policy 1: exportGeometry=false).
type Geometry struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// NewLineString builds a LineString geometry from an ordered list of
// (lon, lat) pairs.
func NewLineString(coords [][2]float64) *Geometry {
	return &Geometry{Type: "LineString", Coordinates: coords}
}

// Feature is one row's routed output.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection header/footer wrap around a stream of Feature values
// written one at a time by the result writer; this type exists for the
// benefit of in-memory consumers (e.g. the fallback materialisation path
// documented in spec §7) and is not itself streamed as a whole.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// MarshalFeature renders a single feature as a compact JSON object, used by
// the streaming writer so that no more than one feature is ever buffered in
// memory at a time.
func MarshalFeature(f Feature) ([]byte, error) {
	return json.Marshal(f)
}
