package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anisarzoo/Dots-and-boxes/room"
	"github.com/go-playground/validator/v10"
)

// Run modes.
const (
	ModeServer = "server"
	ModePlay   = "play"
)

// Config is the process configuration, read from the environment. The
// server mode hosts the store; the play mode runs a headless player against
// a server.
type Config struct {
	Mode     string `validate:"oneof=server play"`
	Port     int    `validate:"gte=1,lte=65535"`
	Logging  bool   // tee logs into LogFile
	LogLevel string `validate:"oneof=trace debug info warn error"`
	LogFile  string `validate:"required_if=Logging true"`

	DefaultGridSize    int           `validate:"gte=3,lte=9"`
	DefaultMaxPlayers  int           `validate:"gte=2,lte=4"`
	RoomCodeAttempts   int           `validate:"gte=1"`
	QuickMatchTimeout  time.Duration `validate:"gte=0"`
	QuickMatchGridSize int           `validate:"gte=3,lte=9"`
	InviteBaseURL      string        `validate:"omitempty,url"`
	AllowedOrigins     []string      `validate:"dive,url"`

	ServerURL  string `validate:"url"`
	PlayerName string `validate:"required_if=Mode play"`
	JoinCode   string `validate:"omitempty,len=4,alphanum"`
	CreateRoom bool   `validate:"excluded_with=JoinCode"`
}

func Default() Config {
	return Config{
		Mode:               ModeServer,
		Port:               8080,
		LogLevel:           "info",
		LogFile:            "dots.log",
		DefaultGridSize:    5,
		DefaultMaxPlayers:  2,
		RoomCodeAttempts:   5,
		QuickMatchGridSize: 5,
		ServerURL:          "ws://localhost:8080/ws",
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads variables through lookup, falling back to Default for
// anything unset, and validates the result.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	r := reader{lookup: lookup}

	cfg.Mode = strings.ToLower(r.string("MODE", cfg.Mode))
	cfg.Port = r.int("PORT", cfg.Port)
	cfg.Logging = r.bool("LOGGING", cfg.Logging)
	cfg.LogLevel = strings.ToLower(r.string("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = r.string("LOG_FILE", cfg.LogFile)
	cfg.DefaultGridSize = r.int("DEFAULT_GRID_SIZE", cfg.DefaultGridSize)
	cfg.DefaultMaxPlayers = r.int("DEFAULT_MAX_PLAYERS", cfg.DefaultMaxPlayers)
	cfg.RoomCodeAttempts = r.int("ROOM_CODE_ATTEMPTS", cfg.RoomCodeAttempts)
	cfg.QuickMatchTimeout = r.duration("QUICK_MATCH_TIMEOUT", cfg.QuickMatchTimeout)
	cfg.QuickMatchGridSize = r.int("QUICK_MATCH_GRID_SIZE", cfg.QuickMatchGridSize)
	cfg.InviteBaseURL = r.string("INVITE_BASE_URL", cfg.InviteBaseURL)
	cfg.AllowedOrigins = r.list("ALLOWED_ORIGINS")
	cfg.ServerURL = r.string("SERVER_URL", cfg.ServerURL)
	cfg.PlayerName = r.string("PLAYER_NAME", cfg.PlayerName)
	cfg.JoinCode = strings.ToUpper(r.string("JOIN_CODE", cfg.JoinCode))
	cfg.CreateRoom = r.bool("CREATE_ROOM", cfg.CreateRoom)

	if r.err != nil {
		return Config{}, r.err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Room maps the room settings onto the room manager's configuration.
func (c Config) Room() room.Config {
	return room.Config{
		DefaultGridSize:    c.DefaultGridSize,
		DefaultMaxPlayers:  c.DefaultMaxPlayers,
		CodeAttempts:       c.RoomCodeAttempts,
		QuickMatchTimeout:  c.QuickMatchTimeout,
		QuickMatchGridSize: c.QuickMatchGridSize,
		InviteBaseURL:      c.InviteBaseURL,
	}
}

// reader keeps the first parse error.
type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) fail(key, v string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (r *reader) string(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

// duration accepts Go durations ("90s") or plain seconds.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	v, ok := r.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
