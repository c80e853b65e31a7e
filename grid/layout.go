package grid

// DefaultMargin is the padding between the canvas edge and the outer dots.
const DefaultMargin = 50.0

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout places an n x n grid of dots on a square canvas. Spacing follows the
// canvas so it changes with the viewport.
type Layout struct {
	Size    int
	Spacing float64
	Margin  float64
}

// NewLayout fits a grid of the given size into a canvas of canvasSize pixels.
func NewLayout(size int, canvasSize float64) Layout {
	l := Layout{Size: size, Margin: DefaultMargin}
	if size > 1 {
		l.Spacing = (canvasSize - 2*l.Margin) / float64(size-1)
	}
	if l.Spacing < 0 {
		l.Spacing = 0
	}
	return l
}

func (l Layout) Dot(row, col int) Point {
	return Point{
		X: l.Margin + float64(col)*l.Spacing,
		Y: l.Margin + float64(row)*l.Spacing,
	}
}

// Dots returns every dot position, indexed [row][col].
func (l Layout) Dots() [][]Point {
	dots := make([][]Point, l.Size)
	for row := range dots {
		dots[row] = make([]Point, l.Size)
		for col := range dots[row] {
			dots[row][col] = l.Dot(row, col)
		}
	}
	return dots
}

// Endpoints returns the two dots joined by the line.
func (l Layout) Endpoints(line Line) (Point, Point) {
	start := l.Dot(line.Row, line.Col)
	if line.Orientation == Horizontal {
		return start, l.Dot(line.Row, line.Col+1)
	}
	return start, l.Dot(line.Row+1, line.Col)
}

func (l Layout) CanvasSize() float64 {
	if l.Size < 2 {
		return 2 * l.Margin
	}
	return 2*l.Margin + float64(l.Size-1)*l.Spacing
}
