package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/anisarzoo/Dots-and-boxes/chat"
	"github.com/anisarzoo/Dots-and-boxes/events"
	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/grid"
	"github.com/anisarzoo/Dots-and-boxes/input"
	"github.com/anisarzoo/Dots-and-boxes/room"
	"github.com/anisarzoo/Dots-and-boxes/store"
	"github.com/anisarzoo/Dots-and-boxes/utils"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInRoom       = room.ErrNotInRoom
	ErrStaleMove       = errors.New("move based on a stale game state")
	ErrNoGame          = errors.New("no game in progress")
	ErrNearMiss        = errors.New("no line near the pointer")
	ErrNotEntitled     = errors.New("proposal does not match the player's seat")
	ErrGameInProgress  = errors.New("game already in progress")
	ErrGameNotFinished = errors.New("game is not finished")
	ErrStarted         = errors.New("synchronizer already started")
)

// Synchronizer keeps the local mirror of a room's game in step with the
// replicated state. The host applies every move and publishes the full
// session; other players apply their moves optimistically, propose them to
// the host and take each published snapshot as the truth.
//
// Store calls are made without holding mu. Every continuation checks the
// generation counter, which changes whenever the mirror is replaced or moved
// forward, before acting on what it computed earlier. Host writes leave
// through a single ordered outbox so the stored snapshot never goes back.
type Synchronizer struct {
	mgr      *room.Manager
	st       store.Store
	bus      *events.Bus
	room     room.Room
	resolver input.Resolver
	chat     *chat.Log

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	session    *game.Session
	generation uint64
	pending    map[grid.Line]bool
	seenMoves  map[string]bool
	seenProps  map[string]bool
	status     game.State
	members    []room.Member
	rematch    map[string]bool
	announced  bool
	unsubs     []func()
	started    bool
	closed     bool

	// outbox holds authoritative writes in version order. One caller at a
	// time drains it; published is the newest version the store accepted.
	outbox    []publication
	flushing  bool
	published int64
}

// New binds a synchronizer to the manager's current room. A nil bus gets a
// private one.
func New(mgr *room.Manager, bus *events.Bus) (*Synchronizer, error) {
	r := mgr.Current()
	if r == nil {
		return nil, ErrNotInRoom
	}
	if bus == nil {
		bus = events.NewBus()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		mgr:       mgr,
		st:        mgr.Store(),
		bus:       bus,
		room:      *r,
		resolver:  input.NewResolver(),
		chat:      chat.NewLog(),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[grid.Line]bool),
		seenMoves: make(map[string]bool),
		seenProps: make(map[string]bool),
	}, nil
}

func netErr(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, room.ErrNetworkUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type roomSub struct {
	path string
	kind store.EventKind
	fn   func(store.Snapshot)
}

// Start subscribes to the room. A backend may deliver current values before
// it returns.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.mu.Unlock()

	code := s.room.Code
	subs := []roomSub{
		{room.Path(code, "players"), store.Value, s.onPlayers},
		{room.Path(code, "status"), store.Value, s.onStatus},
		{room.Path(code, "gameState"), store.Value, s.onGameState},
		{room.Path(code, "rematch"), store.Value, s.onRematch},
		{chat.Path(code), store.ChildAdded, s.onChat},
	}
	if s.room.IsHost {
		subs = append(subs, roomSub{room.Path(code, "proposals"), store.ChildAdded, s.onProposal})
	} else {
		subs = append(subs, roomSub{room.Path(code, "moves"), store.ChildAdded, s.onMove})
	}

	for _, sub := range subs {
		unsub, err := s.st.Subscribe(ctx, sub.path, sub.kind, sub.fn)
		if err != nil {
			s.Close()
			return netErr("subscribe "+sub.path, err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			unsub()
			return ErrNotInRoom
		}
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}
	log.Info().Str("room", code).Str("player", s.room.PlayerName).Bool("host", s.room.IsHost).Msg("Synchronizer started")
	return nil
}

// Close drops every room subscription.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.cancel()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Leave closes the synchronizer and leaves the room.
func (s *Synchronizer) Leave(ctx context.Context) error {
	s.Close()
	return s.mgr.LeaveRoom(ctx)
}

func (s *Synchronizer) Room() room.Room { return s.room }
func (s *Synchronizer) IsHost() bool    { return s.room.IsHost }
func (s *Synchronizer) Events() *events.Bus {
	return s.bus
}

// Session returns a copy of the mirror, or nil before the first game.
func (s *Synchronizer) Session() *game.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.session.Clone()
}

// LocalPlayer is the local player's turn index, -1 when not seated.
func (s *Synchronizer) LocalPlayer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return -1
	}
	return s.session.PlayerIndex(s.room.PlayerName)
}

func (s *Synchronizer) Members() []room.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]room.Member(nil), s.members...)
}

func (s *Synchronizer) Status() game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Synchronizer) Chat() []chat.Message { return s.chat.Messages() }

// StartGame deals a fresh session to the room's members. Host only.
func (s *Synchronizer) StartGame(ctx context.Context) error {
	if !s.room.IsHost {
		return room.ErrNotHost
	}
	rec, err := s.mgr.Record(ctx)
	if err != nil {
		return err
	}
	if rec.Status == game.StatePlaying {
		return ErrGameInProgress
	}
	session, err := game.NewSession(room.Players(rec.Members()), rec.GridSize)
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}

	s.mu.Lock()
	before := s.session
	var version int64
	if before != nil {
		version = before.Version()
	}
	if rec.GameState != nil && rec.GameState.Version > version {
		version = rec.GameState.Version
	}
	session.SetVersion(version + 1)
	s.replaceLocked(session)
	s.resetSeenLocked()
	pub := s.dealLocked(before)
	s.outbox = append(s.outbox, pub)
	s.bus.Publish(events.StateReplaced{Room: s.room.Code, Version: pub.snap.Version, Snapshot: pub.snap})
	s.mu.Unlock()

	return s.flush(ctx, pub.snap.Version)
}

// SubmitMove draws line for the local player against the current mirror.
func (s *Synchronizer) SubmitMove(ctx context.Context, line grid.Line) (game.MoveResult, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return game.MoveResult{}, ErrNoGame
	}
	v := s.session.Version()
	s.mu.Unlock()
	return s.SubmitMoveAt(ctx, line, v)
}

// SubmitPointer resolves a pointer position and submits the line it hits.
func (s *Synchronizer) SubmitPointer(ctx context.Context, x, y float64, layout grid.Layout) (game.MoveResult, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return game.MoveResult{}, ErrNoGame
	}
	line, ok := s.resolver.ResolveLine(x, y, layout, s.session)
	v := s.session.Version()
	s.mu.Unlock()
	if !ok {
		return game.MoveResult{}, ErrNearMiss
	}
	return s.SubmitMoveAt(ctx, line, v)
}

// SubmitMoveAt draws line only if the mirror is still at version basedOn,
// so a decision made against an older state is rejected with ErrStaleMove.
func (s *Synchronizer) SubmitMoveAt(ctx context.Context, line grid.Line, basedOn int64) (game.MoveResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return game.MoveResult{}, ErrNotInRoom
	}
	if s.session == nil {
		s.mu.Unlock()
		return game.MoveResult{}, ErrNoGame
	}
	if v := s.session.Version(); v != basedOn {
		s.mu.Unlock()
		return game.MoveResult{}, fmt.Errorf("%w: based on version %d, mirror at %d", ErrStaleMove, basedOn, v)
	}

	actor := s.session.PlayerIndex(s.room.PlayerName)
	before := s.session.Clone()
	res, err := s.session.ApplyMove(line, actor)
	if err != nil {
		s.mu.Unlock()
		return game.MoveResult{}, err
	}
	s.generation++

	if s.room.IsHost {
		s.session.SetVersion(before.Version() + 1)
		pub := s.publicationLocked(before, &res)
		s.outbox = append(s.outbox, pub)
		s.bus.Publish(events.MoveApplied{Room: s.room.Code, Result: res})
		s.announceLocked()
		s.mu.Unlock()

		if err := s.flush(ctx, pub.snap.Version); err != nil {
			return game.MoveResult{}, err
		}
		return res, nil
	}

	s.pending[line] = true
	gen := s.generation
	prop := Proposal{
		Line:       line,
		LineKey:    line.Key(),
		Player:     actor,
		PlayerName: s.room.PlayerName,
		ClientID:   s.room.ClientID,
		BasedOn:    basedOn,
	}
	s.bus.Publish(events.MoveApplied{Room: s.room.Code, Result: res, Optimistic: true})
	s.mu.Unlock()

	if _, err := s.st.Push(ctx, room.Path(s.room.Code, "proposals"), prop); err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.session = before
			s.generation++
			delete(s.pending, line)
			s.bus.Publish(events.Notification{Room: s.room.Code, Level: events.LevelError, Text: "Move not sent", Err: err})
		}
		s.mu.Unlock()
		log.Error().Err(err).Str("room", s.room.Code).Str("line", line.Key()).Msg("Failed to propose move")
		return game.MoveResult{}, netErr("propose move", err)
	}
	return res, nil
}

// RequestRematch asks for a new game once the current one is over. The host
// starts it when every player asked.
func (s *Synchronizer) RequestRematch(ctx context.Context) error {
	s.mu.Lock()
	finished := s.session != nil && s.session.State() == game.StateFinished
	s.mu.Unlock()
	if !finished {
		return ErrGameNotFinished
	}
	if err := s.st.Put(ctx, room.Path(s.room.Code, "rematch", s.room.PlayerKey), true); err != nil {
		return netErr("request rematch", err)
	}
	log.Info().Str("room", s.room.Code).Str("player", s.room.PlayerName).Msg("Rematch requested")
	return nil
}

func (s *Synchronizer) SendChat(ctx context.Context, text string) error {
	if _, err := chat.Send(ctx, s.st, s.room.Code, s.room.PlayerName, s.room.ClientID, text); err != nil {
		if errors.Is(err, chat.ErrEmpty) {
			return err
		}
		return netErr("send chat", err)
	}
	return nil
}

// publication is an authoritative write computed under mu and queued on the
// outbox, which performs it after mu is released. A deal starts a new game in
// the room instead of overwriting the game state alone.
type publication struct {
	gen    uint64
	before *game.Session
	move   *MoveRecord
	snap   game.Snapshot
	result *game.Result
	deal   bool
}

// dealLocked describes the start of the game now in the mirror, which
// replaced before.
func (s *Synchronizer) dealLocked(before *game.Session) publication {
	return publication{gen: s.generation, before: before, snap: s.session.Snapshot(), deal: true}
}

func (s *Synchronizer) publicationLocked(before *game.Session, res *game.MoveResult) publication {
	pub := publication{gen: s.generation, before: before, snap: s.session.Snapshot()}
	if res != nil {
		rec := newMoveRecord(*res, s.session.Version(), s.room.ClientID)
		pub.move = &rec
		if res.Finished && res.Result != nil {
			r := *res.Result
			pub.result = &r
		}
	}
	return pub
}

// flush drains the outbox unless another caller is already draining it, in
// which case that caller publishes whatever was queued. It reports the error
// of the publication at version mine when this call performed it. Writes
// queued by others use the synchronizer's context.
func (s *Synchronizer) flush(ctx context.Context, mine int64) error {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	var err error
	for len(s.outbox) > 0 {
		pub := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()

		pctx := s.ctx
		if pub.snap.Version == mine {
			pctx = ctx
		}
		if perr := s.publish(pctx, pub); perr != nil && pub.snap.Version == mine {
			err = perr
		}
		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
	return err
}

func (s *Synchronizer) markPublished(version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.published {
		s.published = version
	}
}

func (s *Synchronizer) publish(ctx context.Context, pub publication) error {
	code := s.room.Code
	s.mu.Lock()
	stale := pub.snap.Version <= s.published
	s.mu.Unlock()
	if stale {
		log.Debug().Str("room", code).Int64("version", pub.snap.Version).Msg("Skipped superseded game state")
		return nil
	}
	if pub.deal {
		if err := s.mgr.StartGame(ctx, pub.snap); err != nil {
			s.rollback(pub.gen, pub.before, "start game", err)
			return err
		}
		s.markPublished(pub.snap.Version)
		return nil
	}
	if pub.move != nil {
		if _, err := s.st.Push(ctx, room.Path(code, "moves"), *pub.move); err != nil {
			s.rollback(pub.gen, pub.before, "broadcast move", err)
			return netErr("broadcast move", err)
		}
	}
	if err := s.st.Put(ctx, room.Path(code, "gameState"), pub.snap); err != nil {
		s.rollback(pub.gen, pub.before, "publish state", err)
		return netErr("publish state", err)
	}
	s.markPublished(pub.snap.Version)
	log.Debug().Str("room", code).Int64("version", pub.snap.Version).Msg("Published game state")
	if pub.result != nil {
		if err := s.mgr.EndGame(ctx, *pub.result); err != nil {
			log.Error().Err(err).Str("room", code).Msg("Failed to record game result")
			s.bus.Publish(events.Notification{Room: code, Level: events.LevelError, Text: "Result not saved", Err: err})
		}
	}
	return nil
}

// rollback restores before unless the mirror moved on since gen.
func (s *Synchronizer) rollback(gen uint64, before *game.Session, op string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Error().Err(cause).Str("room", s.room.Code).Str("op", op).Msg("Publish failed")
	if s.generation != gen {
		return
	}
	s.replaceLocked(before)
	s.announced = before != nil && before.State() == game.StateFinished
	s.bus.Publish(events.Notification{Room: s.room.Code, Level: events.LevelError, Text: "Network unavailable, move undone", Err: cause})
}

func (s *Synchronizer) replaceLocked(sess *game.Session) {
	s.session = sess
	s.generation++
	s.pending = make(map[grid.Line]bool)
	if sess == nil || sess.State() != game.StateFinished {
		s.announced = false
	}
}

// resetSeenLocked forgets broadcast and proposal keys once a new game starts;
// the store drops both lists at that point.
func (s *Synchronizer) resetSeenLocked() {
	s.seenMoves = make(map[string]bool)
	s.seenProps = make(map[string]bool)
}

func (s *Synchronizer) announceLocked() {
	if s.session == nil || s.session.State() != game.StateFinished || s.announced {
		return
	}
	if len(s.pending) > 0 {
		return
	}
	s.announced = true
	if r := s.session.Result(); r != nil {
		s.bus.Publish(events.GameFinished{Room: s.room.Code, Result: *r})
	}
}

func (s *Synchronizer) onPlayers(snap store.Snapshot) {
	var players map[string]room.Member
	if err := snap.Decode(&players); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Unreadable player list")
		return
	}
	members := room.SortMembers(players)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.members = members
	s.bus.Publish(events.PlayersChanged{Room: s.room.Code, Members: members})
}

func (s *Synchronizer) onStatus(snap store.Snapshot) {
	var status game.State
	if err := snap.Decode(&status); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Unreadable room status")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || status == s.status {
		return
	}
	s.status = status
	s.bus.Publish(events.StatusChanged{Room: s.room.Code, Status: status})
}

func (s *Synchronizer) onChat(snap store.Snapshot) {
	var m chat.Message
	if err := snap.Decode(&m); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Unreadable chat message")
		return
	}
	if !s.chat.Add(m) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.bus.Publish(events.ChatReceived{Room: s.room.Code, Message: m})
	}
}

// onGameState replaces the mirror with a published snapshot. The host skips
// echoes of its own writes.
func (s *Synchronizer) onGameState(snap store.Snapshot) {
	if !snap.Exists() {
		return
	}
	var rec game.Snapshot
	if err := snap.Decode(&rec); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Unreadable game state")
		return
	}
	restored, err := game.Restore(rec)
	if err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Int64("version", rec.Version).Msg("Rejected game snapshot")
		s.mu.Lock()
		s.bus.Publish(events.Notification{Room: s.room.Code, Level: events.LevelError, Text: "Received an invalid game state", Err: err})
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.room.IsHost && s.session != nil && restored.Version() <= s.session.Version() {
		return
	}

	var dropped []string
	for line := range s.pending {
		if !restored.IsDrawn(line) {
			dropped = append(dropped, line.Key())
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		log.Warn().Str("room", s.room.Code).Int64("version", restored.Version()).Strs("dropped", dropped).Msg("Snapshot discarded unconfirmed moves")
		s.bus.Publish(events.Desync{Room: s.room.Code, Version: restored.Version(), Dropped: dropped})
	}

	s.replaceLocked(restored)
	if len(restored.Lines()) == 0 {
		s.resetSeenLocked()
	}
	s.bus.Publish(events.StateReplaced{Room: s.room.Code, Version: restored.Version(), Snapshot: rec})
	s.announceLocked()
}

// onMove applies a host broadcast ahead of the next snapshot. Broadcasts
// already reflected in the mirror are skipped.
func (s *Synchronizer) onMove(snap store.Snapshot) {
	var rec MoveRecord
	if err := snap.Decode(&rec); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Unreadable move broadcast")
		return
	}
	line, err := recordLine(rec.LineKey, rec.Line)
	if err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Move broadcast without a valid line")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.seenMoves[snap.Key()] {
		return
	}
	s.seenMoves[snap.Key()] = true
	if s.session == nil || rec.Version <= s.session.Version() {
		return
	}

	if s.session.IsDrawn(line) {
		if owner, _ := s.session.LineOwner(line); s.pending[line] && owner == rec.Player {
			delete(s.pending, line)
			s.session.SetVersion(rec.Version)
			log.Debug().Str("room", s.room.Code).Str("line", line.Key()).Int64("version", rec.Version).Msg("Move confirmed")
			s.announceLocked()
			return
		}
		log.Debug().Str("room", s.room.Code).Str("line", line.Key()).Msg("Move broadcast conflicts with mirror, waiting for snapshot")
		return
	}
	if len(s.pending) > 0 {
		log.Debug().Str("room", s.room.Code).Str("line", line.Key()).Msg("Move broadcast behind unconfirmed moves, waiting for snapshot")
		return
	}
	res, err := s.session.ApplyMove(line, rec.Player)
	if err != nil {
		log.Debug().Err(err).Str("room", s.room.Code).Msg("Move broadcast not applicable, waiting for snapshot")
		return
	}
	s.session.SetVersion(rec.Version)
	s.generation++
	s.bus.Publish(events.MoveApplied{Room: s.room.Code, Result: res, Remote: true})
	s.announceLocked()
}

// onProposal folds a non-host move into the authoritative state. A rejected
// proposal still triggers a publish so the proposer drops its optimistic move.
func (s *Synchronizer) onProposal(snap store.Snapshot) {
	key := snap.Key()
	var p Proposal
	if err := snap.Decode(&p); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Unreadable move proposal")
		return
	}

	s.mu.Lock()
	if s.closed || s.seenProps[key] {
		s.mu.Unlock()
		return
	}
	s.seenProps[key] = true
	pub, ok := s.foldLocked(p)
	if ok {
		s.outbox = append(s.outbox, pub)
	}
	s.mu.Unlock()

	if ok {
		if err := s.flush(s.ctx, pub.snap.Version); err != nil {
			log.Error().Err(err).Str("room", s.room.Code).Str("clientID", p.ClientID).Msg("Failed to publish folded proposal")
		}
	}
	if err := s.st.Remove(s.ctx, room.Path(s.room.Code, "proposals", key)); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Failed to clear proposal")
	}
}

func (s *Synchronizer) foldLocked(p Proposal) (publication, bool) {
	logger := log.With().Str("room", s.room.Code).Str("player", p.PlayerName).Str("clientID", p.ClientID).Str("line", p.LineKey).Logger()
	if s.session == nil {
		logger.Warn().Msg("Proposal without a game")
		return publication{}, false
	}

	before := s.session.Clone()
	reject := func(reason error) (publication, bool) {
		logger.Info().Err(reason).Int64("basedOn", p.BasedOn).Msg("Proposal rejected")
		s.session.SetVersion(before.Version() + 1)
		s.generation++
		return s.publicationLocked(before, nil), true
	}

	idx := s.session.PlayerIndex(p.PlayerName)
	if idx < 0 || idx != p.Player {
		return reject(ErrNotEntitled)
	}
	line, err := recordLine(p.LineKey, p.Line)
	if err != nil {
		return reject(err)
	}
	res, err := s.session.ApplyMove(line, idx)
	if err != nil {
		return reject(err)
	}
	s.session.SetVersion(before.Version() + 1)
	s.generation++
	s.bus.Publish(events.MoveApplied{Room: s.room.Code, Result: res, Remote: true})
	s.announceLocked()
	logger.Debug().Int64("version", s.session.Version()).Msg("Proposal applied")
	return s.publicationLocked(before, &res), true
}

// onRematch tracks rematch requests; the host resets the game once every
// player asked.
func (s *Synchronizer) onRematch(snap store.Snapshot) {
	var req map[string]bool
	if err := snap.Decode(&req); err != nil {
		log.Warn().Err(err).Str("room", s.room.Code).Msg("Unreadable rematch requests")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.rematch = req
	requested := make([]string, 0, len(req))
	for k, ok := range req {
		if ok {
			requested = append(requested, k)
		}
	}
	sort.Strings(requested)
	s.bus.Publish(events.RematchChanged{Room: s.room.Code, Requested: requested})

	if !s.room.IsHost || !s.rematchReadyLocked() {
		s.mu.Unlock()
		return
	}
	before := s.session
	fresh := before.Reset()
	fresh.SetVersion(before.Version() + 1)
	s.replaceLocked(fresh)
	s.resetSeenLocked()
	s.rematch = nil
	pub := s.dealLocked(before)
	// queued behind the final state of the finished game, which may still
	// be on its way to the store
	s.outbox = append(s.outbox, pub)
	s.bus.Publish(events.StateReplaced{Room: s.room.Code, Version: pub.snap.Version, Snapshot: pub.snap})
	s.mu.Unlock()

	log.Info().Str("room", s.room.Code).Int64("version", pub.snap.Version).Msg("Rematch starting")
	if err := s.flush(s.ctx, pub.snap.Version); err != nil {
		log.Error().Err(err).Str("room", s.room.Code).Msg("Failed to start rematch")
	}
}

func (s *Synchronizer) rematchReadyLocked() bool {
	if s.session == nil || s.session.State() != game.StateFinished {
		return false
	}
	for _, p := range s.session.Players() {
		if !s.rematch[utils.SanitizeKey(p.Name)] {
			return false
		}
	}
	return true
}
