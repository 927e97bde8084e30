// Frostbay - game backend emulator.
//
// Frostbay speaks the FESL login protocol and the GameSpy master
// server protocol so legacy game clients and dedicated servers can
// authenticate, announce themselves and browse each other without the
// original backend. It exposes a REST status API and publishes
// real-time telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frostbay-project/frostbay/internal/api"
	"github.com/frostbay-project/frostbay/internal/cli"
	"github.com/frostbay-project/frostbay/internal/config"
	"github.com/frostbay-project/frostbay/internal/db"
	"github.com/frostbay-project/frostbay/internal/events"
	"github.com/frostbay-project/frostbay/internal/network"
	"github.com/frostbay-project/frostbay/internal/session"
	"github.com/frostbay-project/frostbay/internal/telemetry"
	"github.com/frostbay-project/frostbay/internal/util"
)

const (
	AppName    = "Frostbay"
	AppVersion = "1.0.0"
	Banner     = `
  ______              _   _
 |  ____|            | | | |
 | |__ _ __ ___  ___ | |_| |__   __ _ _   _
 |  __| '__/ _ \/ __|| __| '_ \ / _' | | | |
 | |  | | | (_) \__ \| |_| |_) | (_| | |_| |
 |_|  |_|  \___/|___/ \__|_.__/ \__,_|\__, |
                                       __/ |
                                      |___/  v%s
 FESL + GameSpy Backend Emulator
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured after config load
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Frostbay")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := util.InitLogger(cfg.ApplicationData.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

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

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	store, err := db.NewStore(cfg.ApplicationData.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	backend := cfg.GetBackend()
	idleTimeout := time.Duration(backend.IdleTimeoutSec) * time.Second

	feslConns := network.NewRegistry()
	gsConns := network.NewRegistry()

	feslHandler := session.NewFeslHandler(
		backend.Name, backend.GameSpyAddress, backend.GameSpyPort, backend.MaxMessageBytes, store, eventBus)
	gsHandler := session.NewGameSpyHandler(backend.MaxPacketBytes, store, eventBus)

	feslListener := network.NewListener("fesl",
		net.JoinHostPort(backend.FeslAddress, fmt.Sprintf("%d", backend.FeslPort)),
		idleTimeout, feslConns, feslHandler.Serve)
	gsListener := network.NewListener("gamespy",
		net.JoinHostPort(backend.GameSpyAddress, fmt.Sprintf("%d", backend.GameSpyPort)),
		idleTimeout, gsConns, gsHandler.Serve)

	apiServer := api.NewServer(cfg, store, feslConns, gsConns)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	cliHandler := cli.NewCLI(cfg, eventBus, store, feslConns, gsConns)

	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", backend.FeslPort).Msg("starting FESL listener")
		if err := startWithRetry(ctx, "FESL listener", feslListener.Start, 15); err != nil {
			log.Error().Err(err).Msg("FESL listener failed after retries")
			errCh <- fmt.Errorf("fesl listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", backend.GameSpyPort).Msg("starting GameSpy listener")
		if err := startWithRetry(ctx, "GameSpy listener", gsListener.Start, 15); err != nil {
			log.Error().Err(err).Msg("GameSpy listener failed after retries")
			errCh <- fmt.Errorf("gamespy listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.ApplicationData.APIPort).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Game servers that stop sending heartbeats fall out of the
	// browser list; idle connections are swept on the same cadence.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runStaleSweeper(ctx, cfg, store, eventBus, feslConns, gsConns)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// CLI "quit" comes in as a shutdown event
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	cancel()

	feslConns.CloseAll()
	gsConns.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	log.Info().Msg("Frostbay stopped")
}

// runStaleSweeper prunes game servers whose heartbeats lapsed and
// closes connections idle past the configured timeout.
func runStaleSweeper(ctx context.Context, cfg *config.Config, store *db.Store, bus *events.EventBus, registries ...*network.Registry) {
	backend := cfg.GetBackend()
	heartbeatTimeout := time.Duration(backend.HeartbeatTimeoutSec) * time.Second
	idleTimeout := time.Duration(backend.IdleTimeoutSec) * time.Second

	interval := heartbeatTimeout / 2
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneStaleServers(heartbeatTimeout)
			if err != nil {
				log.Error().Err(err).Msg("failed to prune stale servers")
			} else if pruned > 0 {
				log.Info().Int("pruned", pruned).Msg("removed stale game servers")
				bus.Emit(ctx, events.Event{
					Type:   events.EventServerRemoved,
					Source: "sweeper",
				})
			}

			if idleTimeout > 0 {
				for _, registry := range registries {
					registry.SweepStale(idleTimeout)
				}
			}
		}
	}
}

// startWithRetry attempts to start a listener/server with retry on
// bind errors, giving the OS time to release ports after a restart.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
