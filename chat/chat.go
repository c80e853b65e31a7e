package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/store"
)

const (
	MaxLength  = 200
	MaxHistory = 100

	SystemPlayer = "System"
)

type Kind string

const (
	KindInfo  Kind = "info"
	KindJoin  Kind = "join"
	KindLeave Kind = "leave"
	KindGame  Kind = "game"
)

var ErrEmpty = errors.New("empty chat message")

// Message is the envelope stored under rooms/<CODE>/chat/<pushId>.
type Message struct {
	Player    string `json:"player"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
	System    bool   `json:"system,omitempty"`
	Type      Kind   `json:"type,omitempty"`
}

func Path(roomCode string) string {
	return store.Join("rooms", roomCode, "chat")
}

// Normalize trims text and caps it at MaxLength runes.
func Normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(text) > MaxLength {
		text = string([]rune(text)[:MaxLength])
	}
	return text, nil
}

// Send appends a player message to the room's chat log and returns its key.
func Send(ctx context.Context, st store.Store, roomCode, player, clientID, text string) (string, error) {
	text, err := Normalize(text)
	if err != nil {
		return "", err
	}
	key, err := st.Push(ctx, Path(roomCode), map[string]any{
		"player":    player,
		"message":   text,
		"timestamp": store.ServerTimestamp,
		"clientId":  clientID,
	})
	if err != nil {
		return "", fmt.Errorf("send chat: %w", err)
	}
	return key, nil
}

// SendSystem appends a notification that no player authored.
func SendSystem(ctx context.Context, st store.Store, roomCode string, kind Kind, text string) error {
	_, err := st.Push(ctx, Path(roomCode), map[string]any{
		"player":    SystemPlayer,
		"message":   text,
		"timestamp": store.ServerTimestamp,
		"system":    true,
		"type":      kind,
	})
	if err != nil {
		return fmt.Errorf("send system chat: %w", err)
	}
	return nil
}

func Joined(name string) string { return name + " joined the room" }
func Left(name string) string   { return name + " left the room" }

const GameStarted = "Game started! Good luck!"

// GameEnded announces a result.
func GameEnded(r game.Result) string {
	if r.IsDraw || r.Winner == nil {
		return "Game ended in a tie!"
	}
	return fmt.Sprintf("Game over! %s wins!", r.Winner.Name)
}

// Log is the local view of a room's chat: duplicates are dropped and only
// the most recent MaxHistory messages are kept.
type Log struct {
	mu       sync.Mutex
	messages []Message
}

func NewLog() *Log {
	return &Log{}
}

// Add records m and reports whether it was new.
func (l *Log) Add(m Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, have := range l.messages {
		if have.Timestamp == m.Timestamp && have.ClientID == m.ClientID &&
			have.Player == m.Player && have.Message == m.Message {
			return false
		}
	}
	l.messages = append(l.messages, m)
	if len(l.messages) > MaxHistory {
		l.messages = append([]Message(nil), l.messages[len(l.messages)-MaxHistory:]...)
	}
	return true
}

func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
