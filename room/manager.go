package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anisarzoo/Dots-and-boxes/chat"
	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/store"
	"github.com/anisarzoo/Dots-and-boxes/utils"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const (
	CodeLength   = 4
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type Config struct {
	DefaultGridSize    int
	DefaultMaxPlayers  int
	CodeAttempts       int
	QuickMatchTimeout  time.Duration
	QuickMatchGridSize int
	InviteBaseURL      string
}

func DefaultConfig() Config {
	return Config{
		DefaultGridSize:    5,
		DefaultMaxPlayers:  2,
		CodeAttempts:       5,
		QuickMatchGridSize: 5,
	}
}

// Room is the local handle on a joined room.
type Room struct {
	Code         string
	InviteLink   string
	IsHost       bool
	IsQuickMatch bool
	PlayerName   string
	PlayerKey    string
	ClientID     string
}

type CreateOptions struct {
	MaxPlayers int `validate:"gte=2,lte=4"`
	GridSize   int `validate:"gte=3,lte=9"`
}

type identity struct {
	Name string `validate:"required,max=32"`
}

type joinRequest struct {
	Code string `validate:"len=4,alphanum,uppercase"`
}

// Status is what the lobby shows about the local player.
type Status struct {
	Room      string `json:"room,omitempty"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
	Queued    bool   `json:"queued"`
}

// Manager runs the room lifecycle for one local player.
type Manager struct {
	st       store.Store
	cfg      Config
	name     string
	clientID string
	validate *validator.Validate

	rngMu sync.Mutex
	rng   *rand.Rand

	mu        sync.Mutex
	current   *Room
	ticket    *Ticket
	connected bool
}

type Option func(*Manager)

func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

func WithClientID(id string) Option {
	return func(m *Manager) { m.clientID = id }
}

func NewManager(st store.Store, playerName string, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.DefaultGridSize == 0 {
		cfg.DefaultGridSize = def.DefaultGridSize
	}
	if cfg.DefaultMaxPlayers == 0 {
		cfg.DefaultMaxPlayers = def.DefaultMaxPlayers
	}
	if cfg.CodeAttempts < 1 {
		cfg.CodeAttempts = def.CodeAttempts
	}
	if cfg.QuickMatchGridSize == 0 {
		cfg.QuickMatchGridSize = def.QuickMatchGridSize
	}
	m := &Manager{
		st:       st,
		cfg:      cfg,
		name:     strings.TrimSpace(playerName),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.clientID == "" {
		m.clientID = utils.GenerateUUIDString()
	}
	return m
}

func (m *Manager) Store() store.Store { return m.st }
func (m *Manager) PlayerName() string { return m.name }
func (m *Manager) ClientID() string   { return m.clientID }

// Current returns the joined room, or nil.
func (m *Manager) Current() *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	r := *m.current
	return &r
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{Connected: m.connected, Queued: m.ticket != nil}
	if m.current != nil {
		s.Room = m.current.Code
		s.IsHost = m.current.IsHost
	}
	return s
}

func (m *Manager) checkIdle() error {
	if err := m.validate.Struct(identity{Name: m.name}); err != nil {
		return fmt.Errorf("invalid player name: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return ErrAlreadyInRoom
	}
	if m.ticket != nil {
		return ErrAlreadyQueued
	}
	return nil
}

func (m *Manager) genCode() string {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeAlphabet[m.rng.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// reserveCode draws codes until one is unused, at most CodeAttempts times.
func (m *Manager) reserveCode(ctx context.Context) (string, error) {
	for i := 0; i < m.cfg.CodeAttempts; i++ {
		code := m.genCode()
		snap, err := m.st.Get(ctx, Path(code))
		if err != nil {
			return "", netErr("reserve room code", err)
		}
		if !snap.Exists() {
			return code, nil
		}
		log.Warn().Str("room", code).Int("attempt", i+1).Msg("Room code collision")
	}
	return "", ErrCodeSpaceExhausted
}

func (m *Manager) inviteLink(code string) string {
	return m.cfg.InviteBaseURL + "#join=" + code
}

func member(name string, host bool) map[string]any {
	return map[string]any{
		"name":      name,
		"isHost":    host,
		"joinedAt":  store.ServerTimestamp,
		"connected": true,
	}
}

// CreateRoom opens a waiting room hosted by the local player. Zero options
// take the configured defaults.
func (m *Manager) CreateRoom(ctx context.Context, opts CreateOptions) (*Room, error) {
	if opts.MaxPlayers == 0 {
		opts.MaxPlayers = m.cfg.DefaultMaxPlayers
	}
	if opts.GridSize == 0 {
		opts.GridSize = m.cfg.DefaultGridSize
	}
	if err := m.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid room options: %w", err)
	}
	if err := m.checkIdle(); err != nil {
		return nil, err
	}

	code, err := m.reserveCode(ctx)
	if err != nil {
		return nil, err
	}
	key := utils.SanitizeKey(m.name)
	err = m.st.Put(ctx, Path(code), map[string]any{
		"code":       code,
		"host":       m.name,
		"maxPlayers": opts.MaxPlayers,
		"gridSize":   opts.GridSize,
		"players":    map[string]any{key: member(m.name, true)},
		"status":     game.StateWaiting,
		"createdAt":  store.ServerTimestamp,
	})
	if err != nil {
		return nil, netErr("create room", err)
	}

	r := &Room{Code: code, InviteLink: m.inviteLink(code), IsHost: true, PlayerName: m.name, PlayerKey: key, ClientID: m.clientID}
	if err := m.enter(ctx, r); err != nil {
		return nil, err
	}
	log.Info().Str("room", code).Str("player", m.name).Int("maxPlayers", opts.MaxPlayers).Int("gridSize", opts.GridSize).Msg("Room created")
	return r.copy(), nil
}

// JoinRoom adds the local player to a waiting room.
func (m *Manager) JoinRoom(ctx context.Context, code string) (*Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := m.validate.Struct(joinRequest{Code: code}); err != nil {
		return nil, &Error{Code: NotFound, Room: code}
	}
	if err := m.checkIdle(); err != nil {
		return nil, err
	}

	snap, err := m.st.Get(ctx, Path(code))
	if err != nil {
		return nil, netErr("join room", err)
	}
	if !snap.Exists() {
		return nil, &Error{Code: NotFound, Room: code}
	}
	var rec Record
	if err := snap.Decode(&rec); err != nil {
		return nil, fmt.Errorf("join room %s: %w", code, err)
	}
	if rec.Status != game.StateWaiting {
		return nil, &Error{Code: NotAcceptingPlayers, Room: code}
	}
	if len(rec.Players) >= rec.MaxPlayers {
		return nil, &Error{Code: Full, Room: code}
	}
	key := utils.SanitizeKey(m.name)
	if _, taken := rec.Players[key]; taken {
		return nil, &Error{Code: DuplicateName, Room: code}
	}

	if err := m.st.Put(ctx, Path(code, "players", key), member(m.name, false)); err != nil {
		return nil, netErr("join room", err)
	}
	r := &Room{Code: code, InviteLink: m.inviteLink(code), PlayerName: m.name, PlayerKey: key, ClientID: m.clientID, IsQuickMatch: rec.IsQuickMatch}
	if err := m.enter(ctx, r); err != nil {
		return nil, err
	}
	if err := chat.SendSystem(ctx, m.st, code, chat.KindJoin, chat.Joined(m.name)); err != nil {
		log.Warn().Err(err).Str("room", code).Msg("Failed to announce join")
	}
	log.Info().Str("room", code).Str("player", m.name).Msg("Joined room")
	return r.copy(), nil
}

// enter marks the player present and registers the disconnect write.
func (m *Manager) enter(ctx context.Context, r *Room) error {
	path := Path(r.Code, "players", r.PlayerKey, "connected")
	if err := m.st.Put(ctx, path, true); err != nil {
		return netErr("set presence", err)
	}
	if err := m.st.OnDisconnect(ctx, path, false); err != nil {
		return netErr("set presence", err)
	}
	m.mu.Lock()
	m.current = r
	m.connected = true
	m.mu.Unlock()
	return nil
}

// LeaveRoom marks the player gone. The local handle is dropped even when the
// backend cannot be reached.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	m.mu.Lock()
	r := m.current
	m.current = nil
	m.connected = false
	m.mu.Unlock()
	if r == nil {
		return ErrNotInRoom
	}

	if err := m.st.Put(ctx, Path(r.Code, "players", r.PlayerKey, "connected"), false); err != nil {
		return netErr("leave room", err)
	}
	if err := chat.SendSystem(ctx, m.st, r.Code, chat.KindLeave, chat.Left(r.PlayerName)); err != nil {
		log.Warn().Err(err).Str("room", r.Code).Msg("Failed to announce leave")
	}
	log.Info().Str("room", r.Code).Str("player", r.PlayerName).Msg("Left room")
	return nil
}

func (m *Manager) hostRoom() (*Room, error) {
	r := m.Current()
	if r == nil {
		return nil, ErrNotInRoom
	}
	if !r.IsHost {
		return nil, ErrNotHost
	}
	return r, nil
}

// Record reads the current room.
func (m *Manager) Record(ctx context.Context) (Record, error) {
	r := m.Current()
	if r == nil {
		return Record{}, ErrNotInRoom
	}
	snap, err := m.st.Get(ctx, Path(r.Code))
	if err != nil {
		return Record{}, netErr("read room", err)
	}
	if !snap.Exists() {
		return Record{}, &Error{Code: NotFound, Room: r.Code}
	}
	var rec Record
	if err := snap.Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("read room %s: %w", r.Code, err)
	}
	return rec, nil
}

// StartGame moves the room to playing with snap as the first authoritative
// state. It also clears what a previous game left behind.
func (m *Manager) StartGame(ctx context.Context, snap game.Snapshot) error {
	r, err := m.hostRoom()
	if err != nil {
		return err
	}
	err = m.st.Update(ctx, Path(r.Code), map[string]any{
		"status":        game.StatePlaying,
		"gameStartedAt": store.ServerTimestamp,
		"gameState":     snap,
		"gameResult":    nil,
		"gameEndedAt":   nil,
		"rematch":       nil,
		"moves":         nil,
		"proposals":     nil,
	})
	if err != nil {
		return netErr("start game", err)
	}
	if err := chat.SendSystem(ctx, m.st, r.Code, chat.KindGame, chat.GameStarted); err != nil {
		log.Warn().Err(err).Str("room", r.Code).Msg("Failed to announce game start")
	}
	log.Info().Str("room", r.Code).Int64("version", snap.Version).Msg("Game started")
	return nil
}

// EndGame records the result and finishes the room.
func (m *Manager) EndGame(ctx context.Context, result game.Result) error {
	r, err := m.hostRoom()
	if err != nil {
		return err
	}
	err = m.st.Update(ctx, Path(r.Code), map[string]any{
		"status":      game.StateFinished,
		"gameResult":  NewResultRecord(result),
		"gameEndedAt": store.ServerTimestamp,
	})
	if err != nil {
		return netErr("end game", err)
	}
	if err := chat.SendSystem(ctx, m.st, r.Code, chat.KindGame, chat.GameEnded(result)); err != nil {
		log.Warn().Err(err).Str("room", r.Code).Msg("Failed to announce game end")
	}
	log.Info().Str("room", r.Code).Bool("draw", result.IsDraw).Int("winner", result.WinnerIndex()).Msg("Game ended")
	return nil
}

// Match is the outcome of StartQuickMatch: a room when an opponent was
// waiting, otherwise a ticket for the queued player. A host that entered the
// matched room but could not deal the first game gets the room together with
// the error, and is still in it.
type Match struct {
	Room   *Room
	Ticket *Ticket
}

// StartQuickMatch pairs the local player with the first waiting opponent, or
// queues the player until someone else picks them.
func (m *Manager) StartQuickMatch(ctx context.Context) (Match, error) {
	if err := m.checkIdle(); err != nil {
		return Match{}, err
	}
	snap, err := m.st.Get(ctx, "quickMatchQueue")
	if err != nil {
		return Match{}, netErr("quick match", err)
	}
	var queue map[string]QueueEntry
	if err := snap.Decode(&queue); err != nil {
		return Match{}, fmt.Errorf("quick match: %w", err)
	}

	if key, opp, ok := pickOpponent(queue, m.name); ok {
		r, err := m.hostQuickMatch(ctx, key, opp)
		if err != nil {
			return Match{Room: r}, err
		}
		return Match{Room: r}, nil
	}

	t, err := m.enqueue(ctx)
	if err != nil {
		return Match{}, err
	}
	return Match{Ticket: t}, nil
}

func pickOpponent(queue map[string]QueueEntry, self string) (string, QueueEntry, bool) {
	keys := make([]string, 0, len(queue))
	for k := range queue {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := queue[keys[i]], queue[keys[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		e := queue[k]
		if e.Name != self && e.Status == QueueStatusWaiting && e.RoomCode == "" {
			return k, e, true
		}
	}
	return "", QueueEntry{}, false
}

func (m *Manager) hostQuickMatch(ctx context.Context, oppKey string, opp QueueEntry) (*Room, error) {
	code, err := m.reserveCode(ctx)
	if err != nil {
		return nil, err
	}
	key := utils.SanitizeKey(m.name)
	err = m.st.Put(ctx, Path(code), map[string]any{
		"code":         code,
		"host":         m.name,
		"maxPlayers":   2,
		"gridSize":     m.cfg.QuickMatchGridSize,
		"isQuickMatch": true,
		"players": map[string]any{
			key:                         member(m.name, true),
			utils.SanitizeKey(opp.Name): member(opp.Name, false),
		},
		"status":    game.StateWaiting,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		return nil, netErr("quick match", err)
	}
	// the opponent removes its own entry once it has joined
	if err := m.st.Update(ctx, QueuePath(oppKey), map[string]any{"roomCode": code, "status": "matched"}); err != nil {
		return nil, netErr("quick match", err)
	}
	if err := m.st.Remove(ctx, QueuePath(key)); err != nil {
		return nil, netErr("quick match", err)
	}

	r := &Room{Code: code, InviteLink: m.inviteLink(code), IsHost: true, IsQuickMatch: true, PlayerName: m.name, PlayerKey: key, ClientID: m.clientID}
	if err := m.enter(ctx, r); err != nil {
		return nil, err
	}
	log.Info().Str("room", code).Str("player", m.name).Str("opponent", opp.Name).Msg("Quick match found")
	if err := m.dealQuickMatch(ctx); err != nil {
		log.Error().Err(err).Str("room", code).Msg("Failed to deal quick match game")
		return r.copy(), err
	}
	return r.copy(), nil
}

// dealQuickMatch starts the first game of a matched room at version 1.
func (m *Manager) dealQuickMatch(ctx context.Context) error {
	rec, err := m.Record(ctx)
	if err != nil {
		return err
	}
	session, err := game.NewSession(Players(rec.Members()), rec.GridSize)
	if err != nil {
		return fmt.Errorf("quick match: %w", err)
	}
	session.SetVersion(1)
	return m.StartGame(ctx, session.Snapshot())
}

func (m *Manager) enqueue(ctx context.Context) (*Ticket, error) {
	key := utils.SanitizeKey(m.name)
	path := QueuePath(key)
	err := m.st.Put(ctx, path, map[string]any{
		"name":     m.name,
		"status":   QueueStatusWaiting,
		"joinedAt": store.ServerTimestamp,
	})
	if err != nil {
		return nil, netErr("quick match", err)
	}
	if err := m.st.OnDisconnect(ctx, path, nil); err != nil {
		return nil, netErr("quick match", err)
	}

	t := &Ticket{m: m, key: key, done: make(chan struct{})}
	m.mu.Lock()
	m.ticket = t
	m.mu.Unlock()

	unsub, err := m.st.Subscribe(ctx, path, store.Value, t.onEntry)
	if err != nil {
		t.finish(nil, err)
		return nil, netErr("quick match", err)
	}
	t.setUnsub(unsub)
	if m.cfg.QuickMatchTimeout > 0 {
		t.startTimer(m.cfg.QuickMatchTimeout)
	}
	log.Info().Str("player", m.name).Msg("Waiting for quick match")
	return t, nil
}

// CancelQuickMatch leaves the queue. It fails with ErrAlreadyMatched once an
// opponent has picked the player.
func (m *Manager) CancelQuickMatch(ctx context.Context) error {
	m.mu.Lock()
	t := m.ticket
	m.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Cancel(ctx)
}

func (r *Room) copy() *Room {
	c := *r
	return &c
}

type ticketState int

const (
	ticketQueued ticketState = iota
	ticketMatching
	ticketDone
)

// Ticket tracks a queued quick match.
type Ticket struct {
	m    *Manager
	key  string
	done chan struct{}

	mu    sync.Mutex
	state ticketState
	room  *Room
	err   error
	unsub func()
	timer *time.Timer
}

func (t *Ticket) Done() <-chan struct{} { return t.done }

// Result is valid once Done is closed.
func (t *Ticket) Result() (*Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.room == nil {
		return nil, t.err
	}
	return t.room.copy(), t.err
}

func (t *Ticket) Wait(ctx context.Context) (*Room, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return t.Result()
	}
}

// Cancel removes the queue entry unless a match already started.
func (t *Ticket) Cancel(ctx context.Context) error {
	return t.abort(ctx, ErrMatchCancelled)
}

func (t *Ticket) abort(ctx context.Context, reason error) error {
	t.mu.Lock()
	switch t.state {
	case ticketMatching:
		t.mu.Unlock()
		return ErrAlreadyMatched
	case ticketDone:
		matched := t.room != nil
		t.mu.Unlock()
		if matched {
			return ErrAlreadyMatched
		}
		return nil
	}
	t.state = ticketMatching
	t.mu.Unlock()

	err := t.m.st.Remove(ctx, QueuePath(t.key))
	t.finish(nil, reason)
	if err != nil {
		return netErr("cancel quick match", err)
	}
	log.Info().Str("player", t.m.name).Err(reason).Msg("Quick match stopped")
	return nil
}

func (t *Ticket) onEntry(snap store.Snapshot) {
	var e QueueEntry
	if err := snap.Decode(&e); err != nil {
		log.Warn().Err(err).Str("player", t.m.name).Msg("Bad quick match queue entry")
		return
	}
	if !snap.Exists() || e.RoomCode == "" {
		return
	}
	t.mu.Lock()
	if t.state != ticketQueued {
		t.mu.Unlock()
		return
	}
	t.state = ticketMatching
	t.mu.Unlock()

	ctx := context.Background()
	m := t.m
	r := &Room{Code: e.RoomCode, InviteLink: m.inviteLink(e.RoomCode), IsQuickMatch: true, PlayerName: m.name, PlayerKey: t.key, ClientID: m.clientID}
	var err error
	if err = m.enterMatched(ctx, r); err == nil {
		if rmErr := m.st.Remove(ctx, QueuePath(t.key)); rmErr != nil {
			log.Warn().Err(rmErr).Str("player", m.name).Msg("Failed to leave quick match queue")
		}
		log.Info().Str("room", r.Code).Str("player", m.name).Msg("Quick match found")
	}
	if err != nil {
		t.finish(nil, err)
		return
	}
	t.finish(r, nil)
}

// enterMatched joins the room the host created with both players in it.
func (m *Manager) enterMatched(ctx context.Context, r *Room) error {
	m.mu.Lock()
	busy := m.current != nil
	m.mu.Unlock()
	if busy {
		return ErrAlreadyInRoom
	}
	return m.enter(ctx, r)
}

func (t *Ticket) setUnsub(unsub func()) {
	t.mu.Lock()
	if t.state == ticketDone {
		t.mu.Unlock()
		unsub()
		return
	}
	t.unsub = unsub
	t.mu.Unlock()
}

func (t *Ticket) startTimer(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ticketDone {
		t.timer = time.AfterFunc(d, func() {
			if err := t.abort(context.Background(), ErrMatchTimeout); err != nil && !errors.Is(err, ErrAlreadyMatched) {
				log.Warn().Err(err).Str("player", t.m.name).Msg("Quick match timeout cleanup failed")
			}
		})
	}
}

func (t *Ticket) finish(r *Room, err error) {
	t.mu.Lock()
	if t.state == ticketDone {
		t.mu.Unlock()
		return
	}
	t.state = ticketDone
	t.room = r
	t.err = err
	unsub, timer := t.unsub, t.timer
	t.unsub, t.timer = nil, nil
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if unsub != nil {
		unsub()
	}
	t.m.mu.Lock()
	if t.m.ticket == t {
		t.m.ticket = nil
	}
	t.m.mu.Unlock()
	close(t.done)
}
