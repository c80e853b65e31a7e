package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/anisarzoo/Dots-and-boxes/game"
	"github.com/anisarzoo/Dots-and-boxes/room"
	"github.com/anisarzoo/Dots-and-boxes/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// RoomSummary is one entry of GET /rooms.
type RoomSummary struct {
	Code         string     `json:"code"`
	Status       game.State `json:"status"`
	Players      int        `json:"players"`
	MaxPlayers   int        `json:"maxPlayers"`
	GridSize     int        `json:"gridSize"`
	IsQuickMatch bool       `json:"isQuickMatch,omitempty"`
}

// StateView is the decoded game of GET /rooms/{code}/state.
type StateView struct {
	Room          string        `json:"room"`
	State         game.State    `json:"state"`
	Version       int64         `json:"version"`
	GridSize      int           `json:"gridSize"`
	CurrentPlayer int           `json:"currentPlayer"`
	Players       []game.Player `json:"players"`
	Lines         int           `json:"lines"`
	Result        *game.Result  `json:"result,omitempty"`
}

type handler struct {
	st store.Store
}

// NewRouter serves the store websocket at /ws and read-only room inspection.
// st is used for reads; origins feed the CORS policy.
func NewRouter(ws http.Handler, st store.Store, origins []string) http.Handler {
	h := &handler{st: st}
	r := mux.NewRouter()

	r.Handle("/ws", ws)
	r.HandleFunc("/healthz", healthHandler).Methods("GET")
	r.HandleFunc("/rooms", h.listRoomsHandler).Methods("GET")
	r.HandleFunc("/rooms/{code}", h.getRoomHandler).Methods("GET")
	r.HandleFunc("/rooms/{code}/state", h.getStateHandler).Methods("GET")

	cors := []handlers.CORSOption{handlers.AllowedMethods([]string{"GET", "OPTIONS"})}
	if len(origins) > 0 {
		cors = append(cors, handlers.AllowedOrigins(origins))
	}
	var out http.Handler = r
	out = handlers.CORS(cors...)(out)
	out = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}), handlers.PrintRecoveryStack(true))(out)
	return handlers.CombinedLoggingHandler(accessLog{}, out)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listRoomsHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.st.Get(r.Context(), "rooms")
	if err != nil {
		storeError(w, err)
		return
	}
	var rooms map[string]room.Record
	if err := snap.Decode(&rooms); err != nil {
		http.Error(w, "Failed to decode rooms", http.StatusInternalServerError)
		return
	}

	out := make([]RoomSummary, 0, len(rooms))
	for code, rec := range rooms {
		out = append(out, RoomSummary{
			Code:         code,
			Status:       rec.Status,
			Players:      len(rec.Players),
			MaxPlayers:   rec.MaxPlayers,
			GridSize:     rec.GridSize,
			IsQuickMatch: rec.IsQuickMatch,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])
	snap, err := h.st.Get(r.Context(), room.Path(code))
	if err != nil {
		storeError(w, err)
		return
	}
	if !snap.Exists() {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(snap.Raw())
}

func (h *handler) getStateHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])
	snap, err := h.st.Get(r.Context(), room.Path(code))
	if err != nil {
		storeError(w, err)
		return
	}
	if !snap.Exists() {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	var rec room.Record
	if err := snap.Decode(&rec); err != nil {
		http.Error(w, "Failed to decode room", http.StatusInternalServerError)
		return
	}
	if rec.GameState == nil {
		http.Error(w, "No game in this room yet", http.StatusConflict)
		return
	}
	session, err := game.Restore(*rec.GameState)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("Stored game state does not restore")
		http.Error(w, "Stored game state is invalid", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, StateView{
		Room:          code,
		State:         session.State(),
		Version:       session.Version(),
		GridSize:      session.GridSize(),
		CurrentPlayer: session.CurrentPlayer(),
		Players:       session.Players(),
		Lines:         len(session.Lines()),
		Result:        session.Result(),
	})
}

func storeError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("Store read failed")
	http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response to JSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// accessLog feeds combined-format access lines into zerolog.
type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	log.Info().Str("access", strings.TrimRight(string(p), "\n")).Msg("HTTP request")
	return len(p), nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error().Interface("panic", v).Msg("Recovered from handler panic")
}
