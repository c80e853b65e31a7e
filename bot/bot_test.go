package bot

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/grid"
	"github.com/anisarzoo/Dots-and-boxes/room"
	"github.com/anisarzoo/Dots-and-boxes/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draw(t *testing.T, s *game.Session, lines ...grid.Line) {
	t.Helper()
	for _, l := range lines {
		_, err := s.ApplyMove(l, s.CurrentPlayer())
		require.NoError(t, err)
	}
}

func TestChooseClosesBox(t *testing.T) {
	s, err := game.NewLocalGame([]string{"a", "b"}, 3)
	require.NoError(t, err)
	draw(t, s, grid.H(0, 0), grid.V(0, 0), grid.H(1, 0))

	got, ok := Choose(s)
	require.True(t, ok)
	assert.Equal(t, grid.V(0, 1), got)
}

func TestChooseAvoidsThirdSide(t *testing.T) {
	s, err := game.NewLocalGame([]string{"a", "b"}, 3)
	require.NoError(t, err)
	draw(t, s, grid.H(0, 0), grid.H(1, 0))

	got, ok := Choose(s)
	require.True(t, ok)
	assert.False(t, s.IsDrawn(got))
	assert.NotContains(t, []grid.Line{grid.V(0, 0), grid.V(0, 1)}, got)
}

func TestChooseFullBoard(t *testing.T) {
	s, err := game.NewLocalGame([]string{"a", "b"}, 2)
	require.NoError(t, err)
	draw(t, s, grid.AllLines(2)...)
	_, ok := Choose(s)
	assert.False(t, ok)
}

func newPlayer(mem *store.Memory, name string, seed int64) *room.Manager {
	cfg := room.DefaultConfig()
	cfg.DefaultGridSize = 3
	cfg.QuickMatchGridSize = 3
	return room.NewManager(mem.Connect(), name, cfg,
		room.WithRand(rand.New(rand.NewSource(seed))), room.WithClientID("client-"+name))
}

type outcome struct {
	result *game.Result
	err    error
}

func play(ctx context.Context, mgr *room.Manager, opts Options) <-chan outcome {
	out := make(chan outcome, 1)
	go func() {
		r, err := Play(ctx, mgr, opts)
		out <- outcome{r, err}
	}()
	return out
}

func assertSameResult(t *testing.T, a, b <-chan outcome) {
	t.Helper()
	first, second := <-a, <-b
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	require.NotNil(t, first.result)
	require.NotNil(t, second.result)
	assert.Equal(t, first.result.FinalScores, second.result.FinalScores)
	assert.Equal(t, first.result.IsDraw, second.result.IsDraw)

	total := 0
	for _, p := range first.result.FinalScores {
		total += p.Score
	}
	assert.Equal(t, grid.BoxCount(3), total)
}

func TestPlayCreatedRoom(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mem := store.NewMemory()
	ann := newPlayer(mem, "ann", 1)
	bob := newPlayer(mem, "bob", 2)

	r, err := ann.CreateRoom(ctx, room.CreateOptions{})
	require.NoError(t, err)
	host := play(ctx, ann, Options{Recheck: 10 * time.Millisecond})
	guest := play(ctx, bob, Options{JoinCode: r.Code, Recheck: 10 * time.Millisecond})
	assertSameResult(t, host, guest)

	snap, err := mem.Connect().Get(ctx, room.Path(r.Code))
	require.NoError(t, err)
	var rec room.Record
	require.NoError(t, snap.Decode(&rec))
	assert.Equal(t, game.StateFinished, rec.Status)
	assert.NotNil(t, rec.GameResult)
}

func TestPlayQuickMatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mem := store.NewMemory()

	first := play(ctx, newPlayer(mem, "ann", 1), Options{Recheck: 10 * time.Millisecond})
	require.Eventually(t, func() bool {
		snap, err := mem.Connect().Get(ctx, room.QueuePath("ann"))
		return err == nil && snap.Exists()
	}, 2*time.Second, 5*time.Millisecond)
	second := play(ctx, newPlayer(mem, "bob", 2), Options{Recheck: 10 * time.Millisecond})
	assertSameResult(t, first, second)
}
