package game

import (
	"fmt"

	"github.com/anisarzoo/Dots-and-boxes/grid"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateWaiting  State = "waiting"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

const (
	MinPlayers  = 2
	MaxPlayers  = 4
	MinGridSize = 2
	MaxGridSize = 15
)

// Palette holds the player colors by turn-order index.
var Palette = []string{"#e74c3c", "#3498db", "#27ae60", "#2c3e50"}

// ColorFor returns the palette color for a player index.
func ColorFor(index int) string {
	if index < 0 || index >= len(Palette) {
		return "#333333"
	}
	return Palette[index]
}

type Player struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	Score  int    `json:"score"`
	IsHost bool   `json:"isHost"`
}

// OwnedBox is a completed box and the index of the player who closed it.
type OwnedBox struct {
	grid.Box
	Owner int `json:"owner"`
}

type MoveResult struct {
	Line           grid.Line
	Player         int
	CompletedBoxes []OwnedBox
	TurnAdvanced   bool
	NextPlayer     int
	Finished       bool
	Result         *Result
}

// Session is the authoritative state of a single game. It is not safe for
// concurrent use; callers serialise access.
type Session struct {
	players  []Player
	gridSize int
	state    State
	current  int
	version  int64

	lines []grid.Line
	drawn map[grid.Line]int
	boxes []OwnedBox
	owned map[grid.Box]int

	result *Result
}

// NewSession starts a game in the playing state with player 0 to move.
func NewSession(players []Player, gridSize int) (*Session, error) {
	if len(players) < MinPlayers || len(players) > MaxPlayers {
		return nil, fmt.Errorf("need %d-%d players, got %d", MinPlayers, MaxPlayers, len(players))
	}
	if gridSize < MinGridSize || gridSize > MaxGridSize {
		return nil, fmt.Errorf("grid size %d out of range %d-%d", gridSize, MinGridSize, MaxGridSize)
	}
	s := newEmpty(gridSize)
	s.players = make([]Player, len(players))
	for i, p := range players {
		p.Index = i
		p.Score = 0
		if p.Color == "" {
			p.Color = ColorFor(i)
		}
		s.players[i] = p
	}
	s.state = StatePlaying
	return s, nil
}

// NewLocalGame builds a hot-seat session from display names.
func NewLocalGame(names []string, gridSize int) (*Session, error) {
	players := make([]Player, len(names))
	for i, name := range names {
		players[i] = Player{Name: name}
	}
	return NewSession(players, gridSize)
}

func newEmpty(gridSize int) *Session {
	return &Session{
		gridSize: gridSize,
		state:    StateWaiting,
		drawn:    make(map[grid.Line]int),
		owned:    make(map[grid.Box]int),
	}
}

// ApplyMove draws line for the acting player. Completing a box keeps the turn
// with the actor; otherwise the turn passes to the next player. A rejected move
// leaves the session untouched.
func (s *Session) ApplyMove(line grid.Line, actor int) (MoveResult, error) {
	if s.state != StatePlaying {
		return MoveResult{}, illegal(line, actor, ErrNotPlaying)
	}
	if !line.Valid(s.gridSize) {
		return MoveResult{}, illegal(line, actor, ErrInvalidLine)
	}
	if _, ok := s.drawn[line]; ok {
		return MoveResult{}, illegal(line, actor, ErrLineDrawn)
	}
	if actor != s.current {
		return MoveResult{}, illegal(line, actor, ErrNotYourTurn)
	}

	s.lines = append(s.lines, line)
	s.drawn[line] = actor

	res := MoveResult{Line: line, Player: actor}
	for _, b := range line.Boxes(s.gridSize) {
		if _, done := s.owned[b]; done || !s.complete(b) {
			continue
		}
		ob := OwnedBox{Box: b, Owner: actor}
		s.boxes = append(s.boxes, ob)
		s.owned[b] = actor
		s.players[actor].Score++
		res.CompletedBoxes = append(res.CompletedBoxes, ob)
	}

	if len(res.CompletedBoxes) == 0 {
		s.current = (s.current + 1) % len(s.players)
		res.TurnAdvanced = true
	}
	res.NextPlayer = s.current

	if len(s.boxes) == grid.BoxCount(s.gridSize) {
		s.finish()
		res.Finished = true
		r := *s.result
		res.Result = &r
	}

	log.Debug().
		Str("line", line.Key()).
		Int("player", actor).
		Int("completed", len(res.CompletedBoxes)).
		Bool("finished", res.Finished).
		Msg("Move applied")
	return res, nil
}

func (s *Session) complete(b grid.Box) bool {
	for _, l := range b.Lines() {
		if _, ok := s.drawn[l]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) finish() {
	s.state = StateFinished
	r := ComputeResult(s.players)
	s.result = &r
}

// Reset returns a fresh session with the same players, for a rematch.
func (s *Session) Reset() *Session {
	fresh := newEmpty(s.gridSize)
	fresh.players = make([]Player, len(s.players))
	for i, p := range s.players {
		p.Score = 0
		fresh.players[i] = p
	}
	fresh.state = StatePlaying
	fresh.version = s.version
	return fresh
}

func (s *Session) Clone() *Session {
	c := &Session{
		players:  append([]Player(nil), s.players...),
		gridSize: s.gridSize,
		state:    s.state,
		current:  s.current,
		version:  s.version,
		lines:    append([]grid.Line(nil), s.lines...),
		boxes:    append([]OwnedBox(nil), s.boxes...),
		drawn:    make(map[grid.Line]int, len(s.drawn)),
		owned:    make(map[grid.Box]int, len(s.owned)),
	}
	for k, v := range s.drawn {
		c.drawn[k] = v
	}
	for k, v := range s.owned {
		c.owned[k] = v
	}
	if s.result != nil {
		r := s.result.clone()
		c.result = &r
	}
	return c
}

func (s *Session) GridSize() int       { return s.gridSize }
func (s *Session) State() State        { return s.state }
func (s *Session) CurrentPlayer() int  { return s.current }
func (s *Session) PlayerCount() int    { return len(s.players) }
func (s *Session) Version() int64      { return s.version }
func (s *Session) SetVersion(v int64)  { s.version = v }
func (s *Session) IsDrawn(l grid.Line) bool {
	_, ok := s.drawn[l]
	return ok
}

// Players returns a copy of the player list in turn order.
func (s *Session) Players() []Player {
	return append([]Player(nil), s.players...)
}

func (s *Session) Player(index int) (Player, bool) {
	if index < 0 || index >= len(s.players) {
		return Player{}, false
	}
	return s.players[index], true
}

// PlayerIndex finds a player by display name.
func (s *Session) PlayerIndex(name string) int {
	for i, p := range s.players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Lines returns drawn lines in the order they were drawn.
func (s *Session) Lines() []grid.Line {
	return append([]grid.Line(nil), s.lines...)
}

// LineOwner reports who drew a line. Lines restored without owner data report -1.
func (s *Session) LineOwner(l grid.Line) (int, bool) {
	owner, ok := s.drawn[l]
	return owner, ok
}

func (s *Session) Boxes() []OwnedBox {
	return append([]OwnedBox(nil), s.boxes...)
}

func (s *Session) BoxOwner(b grid.Box) (int, bool) {
	owner, ok := s.owned[b]
	return owner, ok
}

func (s *Session) Scores() []int {
	scores := make([]int, len(s.players))
	for i, p := range s.players {
		scores[i] = p.Score
	}
	return scores
}

// Result is set once the game is finished.
func (s *Session) Result() *Result {
	if s.result == nil {
		return nil
	}
	r := s.result.clone()
	return &r
}

// CheckInvariants recomputes scores from box ownership and verifies the
// cached values, the box count and the finished state.
func (s *Session) CheckInvariants() error {
	counts := make([]int, len(s.players))
	for _, b := range s.boxes {
		if b.Owner < 0 || b.Owner >= len(counts) {
			return fmt.Errorf("box %s owned by unknown player %d", b.Box, b.Owner)
		}
		counts[b.Owner]++
	}
	for i, p := range s.players {
		if p.Score != counts[i] {
			return fmt.Errorf("player %d score %d, owns %d boxes", i, p.Score, counts[i])
		}
	}
	total := grid.BoxCount(s.gridSize)
	if len(s.boxes) > total {
		return fmt.Errorf("%d boxes on a grid of %d", len(s.boxes), total)
	}
	if (len(s.boxes) == total) != (s.state == StateFinished) {
		return fmt.Errorf("state %s with %d/%d boxes", s.state, len(s.boxes), total)
	}
	return nil
}
