package room

import (
	"errors"
	"fmt"

	"github.com/anisarzoo/Dots-and-boxes/store"
)

type ErrorCode string

const (
	NotFound            ErrorCode = "not_found"
	Full                ErrorCode = "full"
	DuplicateName       ErrorCode = "duplicate_name"
	NotAcceptingPlayers ErrorCode = "not_accepting_players"
)

// Error is a join failure the player can act on.
type Error struct {
	Code ErrorCode
	Room string
}

func (e *Error) Error() string {
	switch e.Code {
	case NotFound:
		return fmt.Sprintf("room %s not found, please check the code", e.Room)
	case Full:
		return fmt.Sprintf("room %s is full", e.Room)
	case DuplicateName:
		return fmt.Sprintf("a player with this name is already in room %s", e.Room)
	case NotAcceptingPlayers:
		return fmt.Sprintf("room %s is not accepting new players", e.Room)
	default:
		return fmt.Sprintf("room %s: %s", e.Room, e.Code)
	}
}

// IsCode reports whether err is a room Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == code
}

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrNotHost            = errors.New("only the host can do this")
	ErrNotInRoom          = errors.New("not in a room")
	ErrAlreadyInRoom      = errors.New("already in a room")
	ErrAlreadyQueued      = errors.New("already waiting for a quick match")
	ErrAlreadyMatched     = errors.New("quick match already found")
	ErrMatchCancelled     = errors.New("quick match cancelled")
	ErrMatchTimeout       = errors.New("no opponent found in time")
	ErrCodeSpaceExhausted = errors.New("could not find a free room code")
)

// netErr tags backend outages so callers can offer offline play.
func netErr(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrNetworkUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
