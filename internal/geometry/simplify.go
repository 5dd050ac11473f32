// Package geometry implements C4: post-processing of a routed polyline
// according to a job's GeometryPolicy.
package geometry

import (
	"math"

	"batchroute/pkg/api"
)

// Point is a (lon, lat) pair in degrees.
type Point = [2]float64

// Transform applies policy to line, returning the line to write into the
// feature collection. The input line is never mutated.
func Transform(line []Point, policy api.GeometryPolicy) []Point {
	if !policy.ExportGeometry {
		return nil
	}

	if policy.StraightLine {
		return straightLine(line)
	}

	if policy.Simplify {
		tolerance := 0.0001
		if policy.SimplifyTolerance != nil {
			tolerance = *policy.SimplifyTolerance
		}
		return douglasPeucker(line, tolerance)
	}

	out := make([]Point, len(line))
	copy(out, line)
	return out
}

func straightLine(line []Point) []Point {
	if len(line) == 0 {
		return nil
	}
	return []Point{line[0], line[len(line)-1]}
}

// douglasPeucker simplifies line with perpendicular-distance threshold
// tolerance, expressed in the same degree units as the coordinates. The
// first and last vertex are always preserved; lines with fewer than 3
// vertices are returned unchanged (spec §4.4 edge case).
func douglasPeucker(line []Point, tolerance float64) []Point {
	if len(line) < 3 {
		out := make([]Point, len(line))
		copy(out, line)
		return out
	}

	keep := make([]bool, len(line))
	keep[0] = true
	keep[len(line)-1] = true
	simplifySegment(line, 0, len(line)-1, tolerance, keep)

	out := make([]Point, 0, len(line))
	for i, k := range keep {
		if k {
			out = append(out, line[i])
		}
	}
	return out
}

func simplifySegment(line []Point, start, end int, tolerance float64, keep []bool) {
	if end-start < 2 {
		return
	}

	maxDist := -1.0
	maxIdx := -1
	for i := start + 1; i < end; i++ {
		d := perpendicularDistance(line[i], line[start], line[end])
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}

	if maxDist <= tolerance {
		return
	}

	keep[maxIdx] = true
	simplifySegment(line, start, maxIdx, tolerance, keep)
	simplifySegment(line, maxIdx, end, tolerance, keep)
}

func perpendicularDistance(p, a, b Point) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]

	if dx == 0 && dy == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}

	num := math.Abs(dy*p[0] - dx*p[1] + dx*a[1] - dy*a[0])
	den := math.Hypot(dx, dy)
	return num / den
}
