package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anisarzoo/Dots-and-boxes/api"
	"github.com/anisarzoo/Dots-and-boxes/bot"
	"github.com/anisarzoo/Dots-and-boxes/config"
	"github.com/anisarzoo/Dots-and-boxes/room"
	"github.com/anisarzoo/Dots-and-boxes/store"
	"github.com/anisarzoo/Dots-and-boxes/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logFile := InitializeLogger(cfg)
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Mode == config.ModePlay {
		if err := runPlayer(ctx, cfg); err != nil {
			log.Error().Err(err).Str("server", cfg.ServerURL).Msg("Player stopped")
			os.Exit(1)
		}
		return
	}
	runServer(ctx, cfg)
}

// runServer hosts the store and the inspection API until ctx ends.
func runServer(ctx context.Context, cfg config.Config) {
	mem := store.NewMemory()
	hub := websocket.NewHub(mem, cfg.AllowedOrigins)
	inspect := mem.Connect()
	defer inspect.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(hub, inspect, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Int("gridSize", cfg.DefaultGridSize).Int("maxPlayers", cfg.DefaultMaxPlayers).Msg("Starting App")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// runPlayer dials a server and plays one game headless, then leaves.
func runPlayer(ctx context.Context, cfg config.Config) error {
	client, err := websocket.Dial(ctx, cfg.ServerURL)
	if err != nil {
		return err
	}
	defer client.Close()

	mgr := room.NewManager(client, cfg.PlayerName, cfg.Room())
	log.Info().Str("server", cfg.ServerURL).Str("player", cfg.PlayerName).Str("clientID", mgr.ClientID()).Msg("Starting player")
	result, err := bot.Play(ctx, mgr, bot.Options{JoinCode: cfg.JoinCode, Create: cfg.CreateRoom})

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if mgr.Current() != nil {
		if lerr := mgr.LeaveRoom(leaveCtx); lerr != nil {
			log.Warn().Err(lerr).Msg("Failed to leave room")
		}
	}
	if err != nil {
		return err
	}
	for _, p := range result.FinalScores {
		log.Info().Str("player", p.Name).Int("score", p.Score).Msg("Final score")
	}
	return nil
}

// InitializeLogger sets up the global logger. With logging enabled output is
// also appended to the configured file, which the caller closes.
func InitializeLogger(cfg config.Config) *os.File {
	var runLogFile *os.File
	if !cfg.Logging {
		log.Logger = log.Output(os.Stdout)
	} else {
		var err error
		runLogFile, err = os.OpenFile(
			cfg.LogFile,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0664,
		)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.LogFile).Msg("Failed to open log file")
		}
		multi := zerolog.MultiLevelWriter(runLogFile, os.Stdout)
		log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return runLogFile
}
