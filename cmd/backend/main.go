package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-town/ai"
	"agent-town/internal"
	"agent-town/moderation"
	"agent-town/repositories"
	"agent-town/runtime"
	"agent-town/runtime/workers"
	"agent-town/transport"
	"agent-town/wire"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backend terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the process lifecycle, and centralizes
// error reporting, so that defers (database cleanup, broker disconnect) always
// execute before the program exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	mask, err := config.CharacterRune()
	if err != nil {
		return exitConfig, err
	}
	rooms := config.RoomIDs()
	if len(rooms) == 0 {
		return exitConfig, fmt.Errorf("ROOMS must name at least one room")
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Stores (BadgerDB history, Bluge memory index)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		debugPort := 8081
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", debugPort, endpoint))
		database.StartDebugServer(db, debugPort, endpoint, MessageMapper)
	}

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	history := repositories.NewMessageRepository(db, logger)
	memories := repositories.NewMemoryRepository(blugeWriter, ai.NewVectorizer(config.VectorSize), logger)

	// 3. Coordination components
	var moderator *moderation.Moderator
	if words := config.ForbiddenWordList(); len(words) > 0 {
		m, err := moderation.NewModerator(words, mask)
		if err != nil {
			return exitConfig, fmt.Errorf("moderation setup failed: %w", err)
		}
		moderator = &m
	}

	registry := runtime.NewRegistry(rooms)
	bus := transport.NewMQTT(config.BrokerURL, config.ClientID, logger)
	coordinator := runtime.NewCoordinator(logger, registry, bus, rooms)
	relay := runtime.NewRelay(logger, registry, bus, history, memories, moderator, config.PrivateRoomIDs())
	bridge := runtime.NewBridge(logger, bus, history, memories, config.MemoryLimit)
	backend := runtime.NewBackend(logger, registry, coordinator, relay, bridge, bus, history, memories, rooms)

	// Republish retained rosters after every broker reconnect; the transport
	// restores subscriptions itself.
	bus.OnConnect = coordinator.PublishState

	if err := bus.Connect(); err != nil {
		return exitRuntime, fmt.Errorf("broker connection failed: %w", err)
	}
	defer func() {
		logger.Info("Disconnecting from broker...")
		bus.Close()
	}()

	if err := backend.Start(); err != nil {
		return exitRuntime, fmt.Errorf("backend start failed: %w", err)
	}

	// 4. Supervised background workers
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(
		workers.NewLivenessWorker(logger, registry, coordinator, config.SweepInterval, config.HeartbeatTimeout),
		workers.NewTelemetryWorker(logger, bus, config.TelemetryInterval),
	)

	done := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(done)
	}()

	logger.Info("Backend running", "broker", config.BrokerURL, "rooms", len(rooms))

	// 5. Wait for a shutdown signal, then drain
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	announceOffline(bus)
	supervisor.Stop()
	<-done
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

// announceOffline replaces the retained self-status so subscribers do not
// keep seeing a live backend after a clean shutdown.
func announceOffline(bus *transport.MQTT) {
	payload, err := json.Marshal(wire.BackendStatus{
		Status: "offline",
		Pid:    os.Getpid(),
		Ts:     time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	bus.Publish(wire.TopicBackendStatus, payload, true)
	time.Sleep(100 * time.Millisecond)
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

// MessageMapper renders history records in the Badger inspector.
func MessageMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	var record struct {
		SenderID string `json:"senderId"`
		Text     string `json:"text"`
		Lang     string `json:"lang"`
	}
	if err := json.Unmarshal(val, &record); err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Type = "CHAT"
	row.EntityID = record.SenderID
	row.Detail = record.Text
	if record.Lang != "" {
		row.Scores = record.Lang
	}
	return row
}
