package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/auth"
	"github.com/jediswimmer/ironcurtain/internal/config"
	"github.com/jediswimmer/ironcurtain/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain/internal/model"
	"github.com/jediswimmer/ironcurtain/internal/orders"
	"github.com/jediswimmer/ironcurtain/internal/server"
	"github.com/jediswimmer/ironcurtain/internal/simulator"
	"github.com/jediswimmer/ironcurtain/internal/storage"
	"github.com/jediswimmer/ironcurtain/internal/telemetry"
	"github.com/jediswimmer/ironcurtain/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("ARBITERD_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("arbiterd starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPublicKeyPath)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Matchmaker queue state is process-local (spec §5); db supplies the
	// two optional oracles it consults: persisted wait-time history and
	// per-agent faction history for pairing tie-breaks.
	mm := matchmaker.New(matchmaker.Config{
		QueueTimeout:     cfg.QueueTimeout,
		InitialTolerance: cfg.InitialTolerance,
		WidenStep:        cfg.WidenStep,
		WidenInterval:    cfg.WidenInterval,
		MaxTolerance:     cfg.MaxTolerance,
		MapPool:          cfg.MapPool,
	}, db, db)

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	go runMatchmakerTicks(tickCtx, mm, cfg.MatchmakerTick, logger)

	apm := newAPMCounter(cfg.RedisAddr, logger)

	sim := simulator.New(cfg.SimulatorURL, cfg.SimulatorTimeout, logger)
	matches := arbiter.NewManager(sim, orders.ProfileCompetitive, apm, db, db, logger)
	matches.SetRetention(cfg.MatchRetention)

	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
		go broker.Start(ctx)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Matchmaker:          mm,
		Matches:             matches,
		Broker:              broker,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	if cfg.AdminAPIKey != "" {
		if err := seedAdmin(ctx, db, cfg.AdminAPIKey); err != nil {
			return fmt.Errorf("admin seed: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("arbiterd shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	stopTicks()
	matches.Shutdown()

	slog.Info("arbiterd stopped")
	return nil
}

// runMatchmakerTicks drives the periodic queue scan (spec §4.1). A tick's
// pairings and timeouts are already delivered to their originating
// QueueEntry.Notifier inside Tick itself, so this loop only needs to keep
// calling it on schedule.
func runMatchmakerTicks(ctx context.Context, mm *matchmaker.Matchmaker, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, outcome := range mm.Tick(now) {
				if len(outcome.Pairings) > 0 {
					logger.Debug("matchmaker tick paired agents", "mode", outcome.Mode, "pairings", len(outcome.Pairings))
				}
			}
		}
	}
}

// newAPMCounter picks the order pipeline's rolling actions-per-minute
// backing store: Redis when an address is configured, so the window
// survives a restart and is shared across replicas, otherwise an in-process
// counter for single-instance and Redis-less dev deployments.
func newAPMCounter(redisAddr string, logger *slog.Logger) orders.APMCounter {
	if redisAddr == "" {
		logger.Info("order apm counter: in-memory (no redis configured)")
		return orders.NewMemoryAPMCounter()
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	logger.Info("order apm counter: redis-backed", "addr", redisAddr)
	return orders.NewRedisAPMCounter(client, logger, false)
}

// seedAdmin registers a bootstrap agent identity bound to the configured
// admin api key, if one doesn't already exist, so operator tooling has a
// stable identity to authenticate as.
func seedAdmin(ctx context.Context, db *storage.DB, adminAPIKey string) error {
	const adminAgentID = "admin"
	if _, err := db.GetAgent(ctx, adminAgentID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("hash admin api key: %w", err)
	}
	agent := model.NewAgent(adminAgentID, "admin")
	agent.APIKeyHash = &hash
	_, err = db.CreateAgent(ctx, agent)
	return err
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
