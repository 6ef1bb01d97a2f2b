// Package main provides the shelfplayer entry point: a headless client
// for streaming long-form audio against a media server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/pennal/shelfplayer/internal/app/player"
	"github.com/pennal/shelfplayer/internal/app/syncer"
	"github.com/pennal/shelfplayer/internal/infra/api"
	"github.com/pennal/shelfplayer/internal/infra/config"
	"github.com/pennal/shelfplayer/internal/infra/engine"
	"github.com/pennal/shelfplayer/internal/infra/logger"
	"github.com/pennal/shelfplayer/internal/infra/store"
)

var (
	app        = kingpin.New("shelfplayer", "Headless audiobook/podcast player client")
	configPath = app.Flag("config", "Path to config file").Default("config/shelfplayer.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	playCmd      = app.Command("play", "Stream a library item")
	playItemID   = playCmd.Arg("item-id", "Library item id").Required().String()
	playTitle    = playCmd.Flag("title", "Item title (display only)").String()
	playDuration = playCmd.Flag("duration", "Media duration in seconds").Float64()
	playFrom     = playCmd.Flag("from", "Start position in seconds").Float64()
	playDiag     = playCmd.Flag("dump-diag", "Write a diagnostics bundle on exit").String()

	restoreCmd = app.Command("restore", "Resume the last local session")

	resyncCmd    = app.Command("resync", "Pull authoritative server progress for an item")
	resyncItemID = resyncCmd.Arg("item-id", "Library item id").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg, command); err != nil {
		zlog.Error().Msgf("shelfplayer error: %v", err)
		os.Exit(1)
	}
}

// run wires the composition root and executes the chosen command. Using a
// separate function ensures defers run even when returning with an error.
func run(cfg *config.Config, command string) error {
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := api.New(api.Config{
		BaseURL: cfg.Server.BaseURL,
		Token:   cfg.Server.Token,
		Timeout: cfg.ServerTimeout(),
	})
	if err != nil {
		return err
	}

	bus := player.NewBus()

	eng, err := engine.New(cfg.Engine, bus)
	if err != nil {
		return err
	}

	sync := syncer.New(syncer.Config{
		UserID:       cfg.Server.UserID,
		DeviceID:     cfg.Server.DeviceID,
		ClientName:   cfg.Server.ClientName,
		SyncInterval: cfg.SyncInterval(),
	}, st, client, bus)
	defer sync.Close()

	mode := player.ModeEnforce
	if cfg.Playback.ObserveOnly {
		mode = player.ModeObserve
	}
	coord := player.New(player.Config{
		Mode:         mode,
		PlaybackRate: cfg.Playback.Rate,
		Volume:       cfg.Playback.Volume,
	}, bus, eng, syncer.Link{S: sync})
	defer coord.Close()

	switch command {
	case playCmd.FullCommand():
		return runPlay(cfg, bus, coord)
	case restoreCmd.FullCommand():
		bus.Dispatch(player.Event{Type: player.EventRestoreState})
		return waitAndStop(bus, coord, "")
	case resyncCmd.FullCommand():
		sync.ForceResyncPosition(cfg.Server.UserID, *resyncItemID)
		return nil
	}
	return nil
}

func runPlay(cfg *config.Config, bus *player.Bus, coord *player.Coordinator) error {
	// Start playback as soon as the engine announces the loaded track.
	unsub := bus.SubscribeDiagnostics(func(de player.DiagnosticEvent) {
		if de.Allowed && de.NextState != nil && *de.NextState == player.StateReady &&
			de.Event == player.EventNativeTrackChanged {
			go bus.Dispatch(player.Event{Type: player.EventPlay})
		}
	})
	defer unsub()

	bus.Dispatch(player.Event{
		Type: player.EventLoadTrack,
		Track: &player.Track{
			LibraryItemID: *playItemID,
			Title:         *playTitle,
			Duration:      *playDuration,
			StreamURL:     fmt.Sprintf("%s/api/items/%s/file", cfg.Server.BaseURL, *playItemID),
		},
		Position: *playFrom,
	})

	return waitAndStop(bus, coord, *playDiag)
}

// waitAndStop blocks until interrupted, then closes playback cleanly and
// optionally writes a diagnostics bundle.
func waitAndStop(bus *player.Bus, coord *player.Coordinator, diagPath string) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	zlog.Info().Msg("shutting down")
	bus.Dispatch(player.Event{Type: player.EventStop})
	// Give the final session push a moment to leave.
	time.Sleep(2 * time.Second)

	if diagPath != "" {
		data, err := coord.ExportDiagnosticsJSON()
		if err != nil {
			return err
		}
		if err := os.WriteFile(diagPath, data, 0644); err != nil {
			return err
		}
		zlog.Info().Msgf("diagnostics written to %s", diagPath)
	}
	return nil
}
