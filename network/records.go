package network

import (
	"fmt"

	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/grid"
)

// MoveRecord is the incremental broadcast the host writes under
// rooms/<CODE>/moves for every move it applies.
type MoveRecord struct {
	Line           grid.Line       `json:"line"`
	LineKey        string          `json:"lineKey"`
	Player         int             `json:"player"`
	CompletedBoxes []game.OwnedBox `json:"completedBoxes,omitempty"`
	Version        int64           `json:"version"`
	ClientID       string          `json:"clientId"`
}

// Proposal is a non-host move waiting at rooms/<CODE>/proposals to be folded
// into the authoritative state.
type Proposal struct {
	Line       grid.Line `json:"line"`
	LineKey    string    `json:"lineKey"`
	Player     int       `json:"player"`
	PlayerName string    `json:"playerName"`
	ClientID   string    `json:"clientId"`
	BasedOn    int64     `json:"basedOn"`
}

func newMoveRecord(res game.MoveResult, version int64, clientID string) MoveRecord {
	return MoveRecord{
		Line:           res.Line,
		LineKey:        res.Line.Key(),
		Player:         res.Player,
		CompletedBoxes: res.CompletedBoxes,
		Version:        version,
		ClientID:       clientID,
	}
}

// recordLine prefers the canonical key and falls back to the structured line.
func recordLine(key string, line grid.Line) (grid.Line, error) {
	if key != "" {
		return grid.ParseKey(key)
	}
	if line.Orientation == "" {
		return grid.Line{}, fmt.Errorf("record carries no line")
	}
	return line, nil
}
