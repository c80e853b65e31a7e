package grid

import (
	"fmt"
	"strconv"
	"strings"
)

type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
)

// Line is an edge between two adjacent dots. Horizontal lines join (row,col)
// and (row,col+1), vertical lines join (row,col) and (row+1,col).
type Line struct {
	Orientation Orientation `json:"type"`
	Row         int         `json:"row"`
	Col         int         `json:"col"`
}

// Box is the unit cell whose top-left dot is (Row, Col).
type Box struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func H(row, col int) Line { return Line{Orientation: Horizontal, Row: row, Col: col} }

func V(row, col int) Line { return Line{Orientation: Vertical, Row: row, Col: col} }

// Key returns the canonical "orientation-row-col" form used as a store key.
func (l Line) Key() string {
	return fmt.Sprintf("%s-%d-%d", l.Orientation, l.Row, l.Col)
}

func (l Line) String() string { return l.Key() }

// ParseKey is the inverse of Line.Key.
func ParseKey(key string) (Line, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 3 {
		return Line{}, fmt.Errorf("malformed line key %q", key)
	}
	o := Orientation(parts[0])
	if o != Horizontal && o != Vertical {
		return Line{}, fmt.Errorf("line key %q: unknown orientation %q", key, parts[0])
	}
	row, err := strconv.Atoi(parts[1])
	if err != nil {
		return Line{}, fmt.Errorf("line key %q: bad row: %w", key, err)
	}
	col, err := strconv.Atoi(parts[2])
	if err != nil {
		return Line{}, fmt.Errorf("line key %q: bad col: %w", key, err)
	}
	return Line{Orientation: o, Row: row, Col: col}, nil
}

// Valid reports whether the line exists on an n x n dot grid.
func (l Line) Valid(n int) bool {
	if l.Row < 0 || l.Col < 0 {
		return false
	}
	switch l.Orientation {
	case Horizontal:
		return l.Row < n && l.Col < n-1
	case Vertical:
		return l.Row < n-1 && l.Col < n
	default:
		return false
	}
}

// Boxes returns the boxes bordered by the line: one for edge lines, two for
// interior lines.
func (l Line) Boxes(n int) []Box {
	if !l.Valid(n) {
		return nil
	}
	var candidates []Box
	if l.Orientation == Horizontal {
		candidates = []Box{{l.Row - 1, l.Col}, {l.Row, l.Col}}
	} else {
		candidates = []Box{{l.Row, l.Col - 1}, {l.Row, l.Col}}
	}
	boxes := make([]Box, 0, 2)
	for _, b := range candidates {
		if b.Valid(n) {
			boxes = append(boxes, b)
		}
	}
	return boxes
}

func (b Box) Valid(n int) bool {
	return b.Row >= 0 && b.Col >= 0 && b.Row < n-1 && b.Col < n-1
}

// Lines returns the bounding lines in top, bottom, left, right order.
func (b Box) Lines() [4]Line {
	return [4]Line{
		H(b.Row, b.Col),
		H(b.Row+1, b.Col),
		V(b.Row, b.Col),
		V(b.Row, b.Col+1),
	}
}

func (b Box) String() string { return fmt.Sprintf("box-%d-%d", b.Row, b.Col) }

// AllLines lists every line of an n x n grid, horizontal lines first, each
// group in row-major order.
func AllLines(n int) []Line {
	if n < 2 {
		return nil
	}
	lines := make([]Line, 0, LineCount(n))
	for row := 0; row < n; row++ {
		for col := 0; col < n-1; col++ {
			lines = append(lines, H(row, col))
		}
	}
	for row := 0; row < n-1; row++ {
		for col := 0; col < n; col++ {
			lines = append(lines, V(row, col))
		}
	}
	return lines
}

func LineCount(n int) int {
	if n < 2 {
		return 0
	}
	return 2 * n * (n - 1)
}

func BoxCount(n int) int {
	if n < 2 {
		return 0
	}
	return (n - 1) * (n - 1)
}
