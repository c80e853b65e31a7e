package game

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/anisarzoo/Dots-and-boxes/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGame(t *testing.T, size int, names ...string) *Session {
	t.Helper()
	s, err := NewLocalGame(names, size)
	require.NoError(t, err)
	return s
}

func TestNewSession(t *testing.T) {
	s := newGame(t, 3, "alice", "bob")
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, 0, s.CurrentPlayer())
	assert.Empty(t, s.Lines())
	assert.Empty(t, s.Boxes())
	players := s.Players()
	assert.Equal(t, 1, players[1].Index)
	assert.Equal(t, Palette[1], players[1].Color)

	_, err := NewLocalGame([]string{"solo"}, 3)
	assert.Error(t, err)
	_, err = NewLocalGame([]string{"a", "b", "c", "d", "e"}, 3)
	assert.Error(t, err)
	_, err = NewLocalGame([]string{"a", "b"}, 1)
	assert.Error(t, err)
}

func TestFirstBoxScenario(t *testing.T) {
	s := newGame(t, 3, "alice", "bob")

	moves := []grid.Line{grid.H(0, 0), grid.H(1, 0), grid.V(0, 0), grid.V(0, 1)}
	var last MoveResult
	for _, l := range moves {
		res, err := s.ApplyMove(l, s.CurrentPlayer())
		require.NoError(t, err)
		last = res
	}

	// players alternate 0,1,0,1 so bob draws the closing line
	require.Len(t, last.CompletedBoxes, 1)
	assert.Equal(t, grid.Box{Row: 0, Col: 0}, last.CompletedBoxes[0].Box)
	assert.Equal(t, 1, last.CompletedBoxes[0].Owner)
	assert.False(t, last.TurnAdvanced)
	assert.Equal(t, 1, s.CurrentPlayer())
	assert.Equal(t, []int{0, 1}, s.Scores())

	owner, ok := s.BoxOwner(grid.Box{Row: 0, Col: 0})
	require.True(t, ok)
	assert.Equal(t, 1, owner)
	lineOwner, _ := s.LineOwner(grid.V(0, 1))
	assert.Equal(t, 1, lineOwner)
}

func TestTurnAdvancesWithoutBox(t *testing.T) {
	s := newGame(t, 3, "a", "b", "c")
	for want := 1; want <= 4; want++ {
		line := grid.AllLines(3)[want-1]
		res, err := s.ApplyMove(line, s.CurrentPlayer())
		require.NoError(t, err)
		assert.True(t, res.TurnAdvanced)
		assert.Equal(t, want%3, s.CurrentPlayer())
	}
}

func TestDoubleBoxCompletion(t *testing.T) {
	s := newGame(t, 3, "a", "b")
	setup := []grid.Line{
		grid.H(0, 0), grid.H(1, 0), grid.V(0, 0),
		grid.H(0, 1), grid.H(1, 1), grid.V(0, 2),
	}
	for _, l := range setup {
		_, err := s.ApplyMove(l, s.CurrentPlayer())
		require.NoError(t, err)
	}
	actor := s.CurrentPlayer()
	res, err := s.ApplyMove(grid.V(0, 1), actor)
	require.NoError(t, err)
	assert.Len(t, res.CompletedBoxes, 2)
	assert.Equal(t, 2, s.Scores()[actor])
	assert.Equal(t, actor, s.CurrentPlayer())
}

func TestIllegalMoves(t *testing.T) {
	s := newGame(t, 3, "a", "b")

	_, err := s.ApplyMove(grid.H(5, 5), 0)
	assert.ErrorIs(t, err, ErrInvalidLine)

	_, err = s.ApplyMove(grid.H(0, 0), 1)
	assert.ErrorIs(t, err, ErrNotYourTurn)

	_, err = s.ApplyMove(grid.H(0, 0), 0)
	require.NoError(t, err)

	_, err = s.ApplyMove(grid.H(0, 0), 1)
	assert.ErrorIs(t, err, ErrLineDrawn)
	assert.True(t, IsIllegalMove(err))

	var ime *IllegalMoveError
	require.ErrorAs(t, err, &ime)
	assert.Equal(t, grid.H(0, 0), ime.Line)
	assert.Equal(t, 1, ime.Player)
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	s := newGame(t, 3, "a", "b")
	for _, l := range []grid.Line{grid.H(0, 0), grid.H(1, 0), grid.V(0, 0), grid.V(0, 1)} {
		_, err := s.ApplyMove(l, s.CurrentPlayer())
		require.NoError(t, err)
	}
	before := s.Snapshot()

	_, err := s.ApplyMove(grid.V(0, 1), s.CurrentPlayer())
	assert.ErrorIs(t, err, ErrLineDrawn)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, []int{0, 1}, s.Scores())
}

func TestRandomGamesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, size := range []int{2, 3, 4, 5, 7} {
		for round := 0; round < 20; round++ {
			players := 2 + rng.Intn(3)
			names := []string{"p0", "p1", "p2", "p3"}[:players]
			s := newGame(t, size, names...)

			lines := grid.AllLines(size)
			rng.Shuffle(len(lines), func(i, j int) { lines[i], lines[j] = lines[j], lines[i] })

			for i, l := range lines {
				before := s.CurrentPlayer()
				res, err := s.ApplyMove(l, before)
				require.NoError(t, err)
				require.NoError(t, s.CheckInvariants())
				require.LessOrEqual(t, len(s.Boxes()), grid.BoxCount(size))

				if len(res.CompletedBoxes) > 0 {
					require.Equal(t, before, s.CurrentPlayer())
				} else {
					require.Equal(t, (before+1)%players, s.CurrentPlayer())
				}
				// finished exactly when every box is owned, which happens on the last line
				require.Equal(t, i == len(lines)-1, res.Finished)
				require.Equal(t, len(s.Boxes()) == grid.BoxCount(size), s.State() == StateFinished)
			}

			_, err := s.ApplyMove(lines[0], s.CurrentPlayer())
			require.ErrorIs(t, err, ErrNotPlaying)
			require.NotNil(t, s.Result())
		}
	}
}

func TestComputeResult(t *testing.T) {
	r := ComputeResult([]Player{{Index: 0, Score: 3}, {Index: 1, Score: 5}, {Index: 2, Score: 2}})
	assert.False(t, r.IsDraw)
	require.NotNil(t, r.Winner)
	assert.Equal(t, 1, r.Winner.Index)
	assert.Equal(t, 5, r.Winner.Score)
	assert.Equal(t, []int{1, 0, 2}, []int{r.FinalScores[0].Index, r.FinalScores[1].Index, r.FinalScores[2].Index})

	r = ComputeResult([]Player{{Index: 0, Score: 4}, {Index: 1, Score: 4}})
	assert.True(t, r.IsDraw)
	assert.Nil(t, r.Winner)
	assert.Equal(t, -1, r.WinnerIndex())
}

func TestResetKeepsPlayers(t *testing.T) {
	s := newGame(t, 2, "a", "b")
	for _, l := range grid.AllLines(2) {
		_, err := s.ApplyMove(l, s.CurrentPlayer())
		require.NoError(t, err)
	}
	require.Equal(t, StateFinished, s.State())

	fresh := s.Reset()
	assert.Equal(t, StatePlaying, fresh.State())
	assert.Equal(t, 0, fresh.CurrentPlayer())
	assert.Equal(t, []int{0, 0}, fresh.Scores())
	assert.Empty(t, fresh.Lines())
	assert.Nil(t, fresh.Result())
	assert.Equal(t, "b", fresh.Players()[1].Name)
}

func TestCloneIsIndependent(t *testing.T) {
	s := newGame(t, 3, "a", "b")
	_, err := s.ApplyMove(grid.H(0, 0), 0)
	require.NoError(t, err)

	c := s.Clone()
	_, err = c.ApplyMove(grid.H(1, 0), 1)
	require.NoError(t, err)

	assert.Len(t, s.Lines(), 1)
	assert.Len(t, c.Lines(), 2)
	assert.Equal(t, 1, s.CurrentPlayer())
}

func TestSnapshotRestore(t *testing.T) {
	s := newGame(t, 3, "a", "b")
	for _, l := range []grid.Line{grid.H(0, 0), grid.H(1, 0), grid.V(0, 0), grid.V(0, 1), grid.H(2, 1)} {
		_, err := s.ApplyMove(l, s.CurrentPlayer())
		require.NoError(t, err)
	}
	s.SetVersion(7)

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	r, err := Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), r.Snapshot())
	assert.Equal(t, int64(7), r.Version())
	assert.NoError(t, r.CheckInvariants())
}

func TestRestoreTranslatesNameOwners(t *testing.T) {
	raw := `{
		"lines": ["horizontal-0-0","horizontal-1-0","vertical-0-0","vertical-0-1"],
		"lineOwners": {"vertical-0-1": 1},
		"boxes": [{"row":0,"col":0,"owner":"bob"}],
		"players": [{"name":"alice","isHost":true,"score":0},{"name":"bob","score":9}],
		"currentPlayer": 1,
		"gridSize": 3
	}`
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))

	s, err := Restore(snap)
	require.NoError(t, err)
	owner, ok := s.BoxOwner(grid.Box{})
	require.True(t, ok)
	assert.Equal(t, 1, owner)
	// score recomputed from ownership, not trusted from the wire
	assert.Equal(t, []int{0, 1}, s.Scores())
	assert.Equal(t, StatePlaying, s.State())

	lineOwner, _ := s.LineOwner(grid.H(0, 0))
	assert.Equal(t, -1, lineOwner)

	out, err := json.Marshal(s.Snapshot().Boxes[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"row":0,"col":0,"owner":1}`, string(out))
}

func TestRestoreRejectsInconsistentSnapshots(t *testing.T) {
	base := func() Snapshot {
		return Snapshot{
			Lines:      []string{"horizontal-0-0", "horizontal-1-0", "vertical-0-0", "vertical-0-1"},
			LineOwners: map[string]int{},
			Boxes:      []BoxRecord{{Row: 0, Col: 0, Owner: Owner{Index: 0}}},
			Players:    []PlayerRecord{{Name: "a"}, {Name: "b"}},
			GridSize:   3,
		}
	}
	cases := map[string]func(*Snapshot){
		"unknown owner name": func(s *Snapshot) { s.Boxes[0].Owner = Owner{Index: -1, Name: "zed"} },
		"owner out of range": func(s *Snapshot) { s.Boxes[0].Owner = Owner{Index: 4} },
		"open box":           func(s *Snapshot) { s.Lines = s.Lines[:3] },
		"unowned closed box": func(s *Snapshot) { s.Boxes = nil },
		"duplicate line":     func(s *Snapshot) { s.Lines = append(s.Lines, "vertical-0-0") },
		"bad key":            func(s *Snapshot) { s.Lines[0] = "nope" },
		"one player":         func(s *Snapshot) { s.Players = s.Players[:1] },
		"turn out of range":  func(s *Snapshot) { s.CurrentPlayer = 2 },
		"stray owner":        func(s *Snapshot) { s.LineOwners["horizontal-2-1"] = 0 },
		"early finish":       func(s *Snapshot) { s.State = StateFinished },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			snap := base()
			_, err := Restore(snap)
			require.NoError(t, err)

			mutate(&snap)
			_, err = Restore(snap)
			assert.ErrorIs(t, err, ErrBadSnapshot)
		})
	}
}
