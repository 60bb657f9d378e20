// rconsole - Game Server RCON Console & API
//
// rconsole manages administrative sessions to game servers over the Source
// and BattlEye RCON protocols, exposes them through an interactive CLI and
// a REST API, records command history, and optionally publishes session
// telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/rconsole-project/rconsole/internal/api"
	"github.com/rconsole-project/rconsole/internal/cli"
	"github.com/rconsole-project/rconsole/internal/config"
	"github.com/rconsole-project/rconsole/internal/db"
	"github.com/rconsole-project/rconsole/internal/events"
	"github.com/rconsole-project/rconsole/internal/scheduler"
	"github.com/rconsole-project/rconsole/internal/session"
	"github.com/rconsole-project/rconsole/internal/telemetry"
	"github.com/rconsole-project/rconsole/internal/util"
)

const (
	AppName    = "rconsole"
	AppVersion = "1.0.0"
	Banner     = `
                                       _
  _ __ ___ ___  _ __  ___  ___ | | ___
 | '__/ __/ _ \| '_ \/ __|/ _ \| |/ _ \
 | | | (_| (_) | | | \__ \ (_) | |  __/
 |_|  \___\___/|_| |_|___/\___/|_|\___|  v%s
 Game Server RCON Console & API
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first; reconfigured after config load.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting rconsole")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    appData.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Root context cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus
	eventBus := events.NewBus()

	// Command history store
	var history *db.HistoryStore
	if appData.History.Path != "" {
		history, err = db.NewHistoryStore(appData.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("history store unavailable, continuing without it")
			history = nil
		}
	}

	// Session manager
	manager := session.NewManager(cfg, eventBus, history)

	var wg sync.WaitGroup

	// REST API server
	if appData.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, manager, history)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	// MQTT telemetry
	if appData.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT telemetry unavailable")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT handler stopped")
				}
			}()
		}
	}

	// Background maintenance
	sched := scheduler.NewScheduler(cfg, history)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Shutdown via CLI quit, bus event, or OS signal
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, ev events.Event) error {
		cancel()
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	// Interactive CLI runs on the main goroutine
	console := cli.NewCLI(cfg, eventBus, manager, history)
	console.Start(ctx)
	cancel()

	// Teardown: close sessions, drain the bus, wait for services
	manager.CloseAll()
	wg.Wait()
	eventBus.Stop()
	if history != nil {
		history.Close()
	}

	log.Info().Msg("rconsole stopped")
}
