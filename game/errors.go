package game

import (
	"errors"
	"fmt"

	"github.com/anisarzoo/Dots-and-boxes/grid"
)

var (
	ErrLineDrawn    = errors.New("line already drawn")
	ErrNotPlaying   = errors.New("game is not in progress")
	ErrNotYourTurn  = errors.New("not this player's turn")
	ErrInvalidLine  = errors.New("line is not on the grid")
	ErrBadSnapshot  = errors.New("invalid game snapshot")
	ErrUnknownOwner = errors.New("box owner is not a player")
)

// IllegalMoveError is returned by ApplyMove. Reason is one of the Err*
// sentinels above and is reachable with errors.Is.
type IllegalMoveError struct {
	Line   grid.Line
	Player int
	Reason error
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %s by player %d: %v", e.Line.Key(), e.Player, e.Reason)
}

func (e *IllegalMoveError) Unwrap() error { return e.Reason }

func illegal(line grid.Line, player int, reason error) error {
	return &IllegalMoveError{Line: line, Player: player, Reason: reason}
}

// IsIllegalMove reports whether err came from a rejected move.
func IsIllegalMove(err error) bool {
	var ime *IllegalMoveError
	return errors.As(err, &ime)
}
