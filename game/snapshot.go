package game

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/anisarzoo/Dots-and-boxes/grid"
)

// Snapshot is the replicated form of a Session, stored at rooms/<CODE>/gameState.
type Snapshot struct {
	Lines         []string       `json:"lines"`
	LineOwners    map[string]int `json:"lineOwners"`
	Boxes         []BoxRecord    `json:"boxes"`
	Players       []PlayerRecord `json:"players"`
	CurrentPlayer int            `json:"currentPlayer"`
	GridSize      int            `json:"gridSize"`
	State         State          `json:"state,omitempty"`
	Version       int64          `json:"version"`
}

type BoxRecord struct {
	Row   int   `json:"row"`
	Col   int   `json:"col"`
	Owner Owner `json:"owner"`
}

type PlayerRecord struct {
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
	Score  int    `json:"score"`
	Color  string `json:"color,omitempty"`
}

// Owner is a box owner as found on the wire. Writers always emit the player
// index; older writers emitted the player's name, which Restore translates.
type Owner struct {
	Index int
	Name  string
}

func (o Owner) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Index)
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*o = Owner{Index: -1, Name: name}
		return nil
	}
	var idx float64
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("box owner: %w", err)
	}
	*o = Owner{Index: int(idx)}
	return nil
}

// Snapshot serialises the session. Scores are included for readers that do
// not recompute them.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Lines:         make([]string, 0, len(s.lines)),
		LineOwners:    make(map[string]int, len(s.lines)),
		Boxes:         make([]BoxRecord, 0, len(s.boxes)),
		Players:       make([]PlayerRecord, 0, len(s.players)),
		CurrentPlayer: s.current,
		GridSize:      s.gridSize,
		State:         s.state,
		Version:       s.version,
	}
	for _, l := range s.lines {
		key := l.Key()
		snap.Lines = append(snap.Lines, key)
		if owner := s.drawn[l]; owner >= 0 {
			snap.LineOwners[key] = owner
		}
	}
	for _, b := range s.boxes {
		snap.Boxes = append(snap.Boxes, BoxRecord{Row: b.Row, Col: b.Col, Owner: Owner{Index: b.Owner}})
	}
	for _, p := range s.players {
		snap.Players = append(snap.Players, PlayerRecord{Name: p.Name, IsHost: p.IsHost, Score: p.Score, Color: p.Color})
	}
	return snap
}

// Restore rebuilds a Session from a snapshot, validating it entirely. Scores
// are recomputed from box ownership; the snapshot's score fields are ignored.
func Restore(snap Snapshot) (*Session, error) {
	if len(snap.Players) < MinPlayers || len(snap.Players) > MaxPlayers {
		return nil, badSnapshot("%d players", len(snap.Players))
	}
	if snap.GridSize < MinGridSize || snap.GridSize > MaxGridSize {
		return nil, badSnapshot("grid size %d", snap.GridSize)
	}
	if snap.CurrentPlayer < 0 || snap.CurrentPlayer >= len(snap.Players) {
		return nil, badSnapshot("current player %d", snap.CurrentPlayer)
	}

	s := newEmpty(snap.GridSize)
	s.version = snap.Version
	s.current = snap.CurrentPlayer
	s.players = make([]Player, len(snap.Players))
	for i, p := range snap.Players {
		color := p.Color
		if color == "" {
			color = ColorFor(i)
		}
		s.players[i] = Player{Index: i, Name: p.Name, Color: color, IsHost: p.IsHost}
	}

	for _, key := range snap.Lines {
		l, err := grid.ParseKey(key)
		if err != nil {
			return nil, badSnapshot("%v", err)
		}
		if !l.Valid(s.gridSize) {
			return nil, badSnapshot("line %s off the grid", key)
		}
		if _, dup := s.drawn[l]; dup {
			return nil, badSnapshot("line %s listed twice", key)
		}
		owner := -1
		if o, ok := snap.LineOwners[key]; ok {
			if o < 0 || o >= len(s.players) {
				return nil, badSnapshot("line %s owned by player %d", key, o)
			}
			owner = o
		}
		s.lines = append(s.lines, l)
		s.drawn[l] = owner
	}
	for key := range snap.LineOwners {
		l, err := grid.ParseKey(key)
		if err != nil || !s.IsDrawn(l) {
			return nil, badSnapshot("owner recorded for undrawn line %s", key)
		}
	}

	for _, br := range snap.Boxes {
		b := grid.Box{Row: br.Row, Col: br.Col}
		if !b.Valid(s.gridSize) {
			return nil, badSnapshot("box %s off the grid", b)
		}
		if _, dup := s.owned[b]; dup {
			return nil, badSnapshot("box %s listed twice", b)
		}
		if !s.complete(b) {
			return nil, badSnapshot("box %s recorded but not closed", b)
		}
		owner, err := s.resolveOwner(br.Owner)
		if err != nil {
			return nil, err
		}
		s.boxes = append(s.boxes, OwnedBox{Box: b, Owner: owner})
		s.owned[b] = owner
		s.players[owner].Score++
	}
	for row := 0; row < s.gridSize-1; row++ {
		for col := 0; col < s.gridSize-1; col++ {
			b := grid.Box{Row: row, Col: col}
			if _, ok := s.owned[b]; !ok && s.complete(b) {
				return nil, badSnapshot("box %s closed but has no owner", b)
			}
		}
	}

	switch {
	case len(s.boxes) == grid.BoxCount(s.gridSize):
		s.finish()
	case snap.State == StateWaiting:
		s.state = StateWaiting
	case snap.State == "" || snap.State == StatePlaying:
		s.state = StatePlaying
	default:
		return nil, badSnapshot("state %q with %d boxes left", snap.State, grid.BoxCount(s.gridSize)-len(s.boxes))
	}
	return s, nil
}

func (s *Session) resolveOwner(o Owner) (int, error) {
	if o.Name != "" && o.Index < 0 {
		if idx := s.PlayerIndex(o.Name); idx >= 0 {
			return idx, nil
		}
		return 0, fmt.Errorf("%w: %w: %q", ErrBadSnapshot, ErrUnknownOwner, o.Name)
	}
	if o.Index < 0 || o.Index >= len(s.players) {
		return 0, fmt.Errorf("%w: %w: %d", ErrBadSnapshot, ErrUnknownOwner, o.Index)
	}
	return o.Index, nil
}

func badSnapshot(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadSnapshot, fmt.Sprintf(format, args...))
}
