package input

import (
	"math/rand"
	"testing"

	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineSet map[grid.Line]bool

func (s lineSet) IsDrawn(l grid.Line) bool { return s[l] }

func TestResolveMidpoints(t *testing.T) {
	layout := grid.NewLayout(5, 500)
	for _, line := range grid.AllLines(5) {
		a, b := layout.Endpoints(line)
		got, ok := ResolveLine((a.X+b.X)/2, (a.Y+b.Y)/2, layout, nil)
		require.True(t, ok, line.Key())
		assert.Equal(t, line, got)
	}
}

func TestResolveNearMiss(t *testing.T) {
	layout := grid.NewLayout(3, 300)
	// spacing 100: 30px below the top edge, under the 60px threshold
	got, ok := ResolveLine(100, 80, layout, nil)
	require.True(t, ok)
	assert.Equal(t, grid.H(0, 0), got)

	// the box centre sits outside every segment's expanded bounding box
	_, ok = ResolveLine(100, 100, layout, nil)
	assert.False(t, ok)

	// far outside the board
	_, ok = ResolveLine(-200, -200, layout, nil)
	assert.False(t, ok)

	tight := Resolver{Threshold: 0.2, Buffer: 0.4}
	_, ok = tight.ResolveLine(100, 80, layout, nil)
	assert.False(t, ok)
}

func TestResolveScalesWithSpacing(t *testing.T) {
	small := grid.NewLayout(3, 200) // spacing 50, threshold 30
	big := grid.NewLayout(3, 600)   // spacing 250, threshold 150

	// 40px above the top-left horizontal line
	_, ok := ResolveLine(small.Margin+small.Spacing/2, small.Margin-40, small, nil)
	assert.False(t, ok)
	got, ok := ResolveLine(big.Margin+big.Spacing/2, big.Margin-40, big, nil)
	require.True(t, ok)
	assert.Equal(t, grid.H(0, 0), got)
}

func TestResolveSkipsDrawnLines(t *testing.T) {
	layout := grid.NewLayout(3, 300)
	a, b := layout.Endpoints(grid.H(0, 0))
	x, y := (a.X+b.X)/2, (a.Y+b.Y)/2+5

	drawn := lineSet{grid.H(0, 0): true}
	_, ok := ResolveLine(x, y, layout, drawn)
	assert.False(t, ok, "no other line is within reach of the segment's middle")

	// near the corner dot the vertical neighbour takes over once H(0,0) is drawn
	got, ok := ResolveLine(65, 60, layout, nil)
	require.True(t, ok)
	assert.Equal(t, grid.H(0, 0), got)
	got, ok = ResolveLine(65, 60, layout, drawn)
	require.True(t, ok)
	assert.Equal(t, grid.V(0, 0), got)
}

func TestResolveNeverReturnsDrawnLine(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s, err := game.NewLocalGame([]string{"a", "b"}, 5)
	require.NoError(t, err)
	layout := grid.NewLayout(5, 400)

	for s.State() == game.StatePlaying {
		for i := 0; i < 50; i++ {
			x := rng.Float64() * layout.CanvasSize()
			y := rng.Float64() * layout.CanvasSize()
			if l, ok := ResolveLine(x, y, layout, s); ok {
				require.False(t, s.IsDrawn(l))
			}
		}
		// draw a random undrawn line to move the game forward
		var open []grid.Line
		for _, l := range grid.AllLines(5) {
			if !s.IsDrawn(l) {
				open = append(open, l)
			}
		}
		_, err := s.ApplyMove(open[rng.Intn(len(open))], s.CurrentPlayer())
		require.NoError(t, err)
	}
}
