package room

import (
	"sort"

	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/store"
)

const QueueStatusWaiting = "waiting"

// Record is the stored form of a room at rooms/<CODE>.
type Record struct {
	Code          string            `json:"code"`
	Host          string            `json:"host"`
	MaxPlayers    int               `json:"maxPlayers"`
	GridSize      int               `json:"gridSize"`
	IsQuickMatch  bool              `json:"isQuickMatch,omitempty"`
	CreatedAt     int64             `json:"createdAt"`
	GameStartedAt int64             `json:"gameStartedAt,omitempty"`
	GameEndedAt   int64             `json:"gameEndedAt,omitempty"`
	Status        game.State        `json:"status"`
	Players       map[string]Member `json:"players,omitempty"`
	GameState     *game.Snapshot    `json:"gameState,omitempty"`
	GameResult    *ResultRecord     `json:"gameResult,omitempty"`
	Rematch       map[string]bool   `json:"rematch,omitempty"`
}

type Member struct {
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	JoinedAt  int64  `json:"joinedAt"`
	Connected bool   `json:"connected"`
}

// ResultRecord is the stored outcome of a finished game.
type ResultRecord struct {
	IsDraw      bool          `json:"isDraw"`
	Winner      *int          `json:"winner,omitempty"`
	WinnerName  string        `json:"winnerName,omitempty"`
	FinalScores []ScoreRecord `json:"finalScores"`
}

type ScoreRecord struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func NewResultRecord(r game.Result) ResultRecord {
	rec := ResultRecord{IsDraw: r.IsDraw, FinalScores: make([]ScoreRecord, 0, len(r.FinalScores))}
	if r.Winner != nil {
		idx := r.Winner.Index
		rec.Winner = &idx
		rec.WinnerName = r.Winner.Name
	}
	for _, p := range r.FinalScores {
		rec.FinalScores = append(rec.FinalScores, ScoreRecord{Index: p.Index, Name: p.Name, Score: p.Score})
	}
	return rec
}

// QueueEntry is a player waiting at quickMatchQueue/<key>.
type QueueEntry struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	JoinedAt int64  `json:"joinedAt"`
	RoomCode string `json:"roomCode,omitempty"`
}

// Members returns the room's players, host first, then in join order.
func (r Record) Members() []Member {
	return SortMembers(r.Players)
}

func SortMembers(players map[string]Member) []Member {
	out := make([]Member, 0, len(players))
	for _, m := range players {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsHost != out[j].IsHost {
			return out[i].IsHost
		}
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Players turns members into game players in turn order.
func Players(members []Member) []game.Player {
	players := make([]game.Player, len(members))
	for i, m := range members {
		players[i] = game.Player{Index: i, Name: m.Name, Color: game.ColorFor(i), IsHost: m.IsHost}
	}
	return players
}

// Path addresses a room or a field below it.
func Path(code string, parts ...string) string {
	return store.Join(append([]string{"rooms", code}, parts...)...)
}

func QueuePath(key string) string {
	return store.Join("quickMatchQueue", key)
}
