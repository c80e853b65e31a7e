package input

import (
	"math"

	"github.com/anisarzoo/Dots-and-boxes/grid"
)

// Default tolerances, as fractions of the grid spacing.
const (
	DefaultThreshold = 0.6
	DefaultBuffer    = 0.4
)

// Drawn reports whether a line is already on the board. *game.Session
// satisfies it.
type Drawn interface {
	IsDrawn(grid.Line) bool
}

// Resolver maps pointer positions to grid lines. Threshold bounds the
// distance to the segment, Buffer expands the segment's bounding box for the
// coarse filter; both scale with the layout spacing.
type Resolver struct {
	Threshold float64
	Buffer    float64
}

func NewResolver() Resolver {
	return Resolver{Threshold: DefaultThreshold, Buffer: DefaultBuffer}
}

// ResolveLine returns the nearest undrawn line to (x, y), or false on a near miss.
func (r Resolver) ResolveLine(x, y float64, layout grid.Layout, drawn Drawn) (grid.Line, bool) {
	if layout.Size < 2 || layout.Spacing <= 0 {
		return grid.Line{}, false
	}
	maxDist := layout.Spacing * r.Threshold
	buffer := layout.Spacing * r.Buffer
	p := grid.Point{X: x, Y: y}

	var (
		best    grid.Line
		found   bool
		nearest = maxDist
	)
	for _, line := range grid.AllLines(layout.Size) {
		if drawn != nil && drawn.IsDrawn(line) {
			continue
		}
		a, b := layout.Endpoints(line)
		if !inBounds(p, a, b, buffer) {
			continue
		}
		if d := segmentDistance(p, a, b); d < nearest {
			nearest = d
			best = line
			found = true
		}
	}
	return best, found
}

// ResolveLine uses the default tolerances.
func ResolveLine(x, y float64, layout grid.Layout, drawn Drawn) (grid.Line, bool) {
	return NewResolver().ResolveLine(x, y, layout, drawn)
}

// segmentDistance is the distance from p to the closest point of segment ab.
func segmentDistance(p, a, b grid.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

func inBounds(p, a, b grid.Point, buffer float64) bool {
	return p.X >= math.Min(a.X, b.X)-buffer && p.X <= math.Max(a.X, b.X)+buffer &&
		p.Y >= math.Min(a.Y, b.Y)-buffer && p.Y <= math.Max(a.Y, b.Y)+buffer
}
