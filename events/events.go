package events

import (
	"fmt"
	"sync"

	"github.com/anisarzoo/Dots-and-boxes/chat"
	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/room"
	"github.com/rs/zerolog/log"
)

type Kind int

const (
	KindStateReplaced Kind = iota + 1
	KindMoveApplied
	KindGameFinished
	KindPlayersChanged
	KindStatusChanged
	KindRematchChanged
	KindChatReceived
	KindDesync
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindStateReplaced:
		return "state_replaced"
	case KindMoveApplied:
		return "move_applied"
	case KindGameFinished:
		return "game_finished"
	case KindPlayersChanged:
		return "players_changed"
	case KindStatusChanged:
		return "status_changed"
	case KindRematchChanged:
		return "rematch_changed"
	case KindChatReceived:
		return "chat_received"
	case KindDesync:
		return "desync"
	case KindNotification:
		return "notification"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one of the payload types below.
type Event interface {
	Kind() Kind
}

// StateReplaced is published when an authoritative snapshot replaced the
// local mirror.
type StateReplaced struct {
	Room     string
	Version  int64
	Snapshot game.Snapshot
}

// MoveApplied is published for every move applied to the local mirror.
// Optimistic moves are not confirmed by the host yet.
type MoveApplied struct {
	Room       string
	Result     game.MoveResult
	Optimistic bool
	Remote     bool
}

type GameFinished struct {
	Room   string
	Result game.Result
}

type PlayersChanged struct {
	Room    string
	Members []room.Member
}

type StatusChanged struct {
	Room   string
	Status game.State
}

// RematchChanged lists the player keys asking for a rematch.
type RematchChanged struct {
	Room      string
	Requested []string
}

type ChatReceived struct {
	Room    string
	Message chat.Message
}

// Desync reports optimistic moves a snapshot discarded.
type Desync struct {
	Room    string
	Version int64
	Dropped []string
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a message for the player, never fatal.
type Notification struct {
	Room  string
	Level Level
	Text  string
	Err   error
}

func (StateReplaced) Kind() Kind  { return KindStateReplaced }
func (MoveApplied) Kind() Kind    { return KindMoveApplied }
func (GameFinished) Kind() Kind   { return KindGameFinished }
func (PlayersChanged) Kind() Kind { return KindPlayersChanged }
func (StatusChanged) Kind() Kind  { return KindStatusChanged }
func (RematchChanged) Kind() Kind { return KindRematchChanged }
func (ChatReceived) Kind() Kind   { return KindChatReceived }
func (Desync) Kind() Kind         { return KindDesync }
func (Notification) Kind() Kind   { return KindNotification }

const DefaultBuffer = 100

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	next   int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

type Subscription struct {
	C <-chan Event

	ch   chan Event
	bus  *Bus
	id   int
	once sync.Once
}

// Subscribe registers a subscriber with the given channel buffer; zero or
// less uses DefaultBuffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		s.once.Do(func() {})
		return s
	}
	b.next++
	s.id = b.next
	b.subs[s.id] = s
	return s
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			log.Warn().Int("subscriber", id).Str("event", e.Kind().String()).Msg("Event dropped, subscriber too slow")
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*Subscription)
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
