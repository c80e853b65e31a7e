package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anisarzoo/Dots-and-boxes/events"
	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/grid"
	"github.com/anisarzoo/Dots-and-boxes/network"
	"github.com/anisarzoo/Dots-and-boxes/room"
	"github.com/rs/zerolog/log"
)

// Options picks the room a headless player enters. With no JoinCode and no
// Create the player queues for a quick match.
type Options struct {
	JoinCode string
	Create   bool
	// Recheck bounds how long the player waits for an event before looking
	// at the board again.
	Recheck time.Duration
}

const defaultRecheck = 250 * time.Millisecond

// Play enters a room through mgr and plays one game to the end. A manager
// already in a room plays there. The host of a created room starts the game
// once every seat is taken.
func Play(ctx context.Context, mgr *room.Manager, opts Options) (*game.Result, error) {
	if err := enter(ctx, mgr, opts); err != nil {
		return nil, err
	}

	bus := events.NewBus()
	sub := bus.Subscribe(0)
	defer sub.Close()
	syn, err := network.New(mgr, bus)
	if err != nil {
		return nil, err
	}
	defer syn.Close()
	if err := syn.Start(ctx); err != nil {
		return nil, err
	}

	seats := 0
	if syn.IsHost() {
		rec, err := mgr.Record(ctx)
		if err != nil {
			return nil, err
		}
		seats = rec.MaxPlayers
	}
	logger := log.With().Str("room", syn.Room().Code).Str("player", mgr.PlayerName()).Logger()
	logger.Info().Bool("host", syn.IsHost()).Msg("Seated")

	recheck := opts.Recheck
	if recheck <= 0 {
		recheck = defaultRecheck
	}
	ticker := time.NewTicker(recheck)
	defer ticker.Stop()

	for {
		if r, done := step(ctx, syn, seats); done {
			ev := logger.Info().Bool("draw", r.IsDraw)
			if r.Winner != nil {
				ev = ev.Str("winner", r.Winner.Name)
			}
			ev.Msg("Game over")
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-sub.C:
			if !ok {
				return nil, network.ErrNotInRoom
			}
		case <-ticker.C:
		}
	}
}

func enter(ctx context.Context, mgr *room.Manager, opts Options) error {
	if mgr.Current() != nil {
		return nil
	}
	switch {
	case opts.JoinCode != "":
		_, err := mgr.JoinRoom(ctx, opts.JoinCode)
		return err
	case opts.Create:
		r, err := mgr.CreateRoom(ctx, room.CreateOptions{})
		if err != nil {
			return err
		}
		log.Info().Str("room", r.Code).Str("invite", r.InviteLink).Msg("Room created")
		return nil
	}
	m, err := mgr.StartQuickMatch(ctx)
	if err != nil {
		return err
	}
	if m.Ticket != nil {
		if _, err := m.Ticket.Wait(ctx); err != nil {
			return fmt.Errorf("quick match: %w", err)
		}
	}
	return nil
}

// step makes at most one move. It reports the result once the game is over
// and the room says so.
func step(ctx context.Context, syn *network.Synchronizer, seats int) (*game.Result, bool) {
	s := syn.Session()
	switch {
	case s == nil:
		if seats > 0 && len(syn.Members()) >= seats && syn.Status() == game.StateWaiting {
			if err := syn.StartGame(ctx); err != nil && !errors.Is(err, network.ErrGameInProgress) {
				log.Warn().Err(err).Str("room", syn.Room().Code).Msg("Could not start game")
			}
		}
		return nil, false
	case s.State() == game.StateFinished:
		// the room turns finished once the host recorded the result
		r := s.Result()
		return r, r != nil && syn.Status() == game.StateFinished
	case s.CurrentPlayer() != s.PlayerIndex(syn.Room().PlayerName):
		return nil, false
	}
	line, ok := Choose(s)
	if !ok {
		return nil, false
	}
	if _, err := syn.SubmitMoveAt(ctx, line, s.Version()); err != nil {
		log.Debug().Err(err).Str("room", syn.Room().Code).Str("line", line.Key()).Msg("Move not taken")
	}
	return nil, false
}

// Choose picks the current player's line: one that closes a box if any,
// else one that leaves no box at three sides, else the first open line.
func Choose(s *game.Session) (grid.Line, bool) {
	var safe, fallback *grid.Line
	n := s.GridSize()
	for _, l := range grid.AllLines(n) {
		if s.IsDrawn(l) {
			continue
		}
		l := l
		if fallback == nil {
			fallback = &l
		}
		gives := false
		for _, b := range l.Boxes(n) {
			switch sides(s, b) {
			case 3:
				return l, true
			case 2:
				gives = true
			}
		}
		if !gives && safe == nil {
			safe = &l
		}
	}
	if safe != nil {
		return *safe, true
	}
	if fallback != nil {
		return *fallback, true
	}
	return grid.Line{}, false
}

func sides(s *game.Session, b grid.Box) int {
	n := 0
	for _, l := range b.Lines() {
		if s.IsDrawn(l) {
			n++
		}
	}
	return n
}
