package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/road-hazard-service/internal/adapter/api"
	"github.com/couchcryptid/road-hazard-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/road-hazard-service/internal/adapter/kafka"
	"github.com/couchcryptid/road-hazard-service/internal/adapter/mapbox"
	"github.com/couchcryptid/road-hazard-service/internal/adapter/media"
	"github.com/couchcryptid/road-hazard-service/internal/adapter/memory"
	mysqladapter "github.com/couchcryptid/road-hazard-service/internal/adapter/mysql"
	redisadapter "github.com/couchcryptid/road-hazard-service/internal/adapter/redis"
	"github.com/couchcryptid/road-hazard-service/internal/adapter/roboflow"
	"github.com/couchcryptid/road-hazard-service/internal/adapter/twilio"
	"github.com/couchcryptid/road-hazard-service/internal/config"
	"github.com/couchcryptid/road-hazard-service/internal/conversation"
	"github.com/couchcryptid/road-hazard-service/internal/dedup"
	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/gate"
	"github.com/couchcryptid/road-hazard-service/internal/lifecycle"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error

	reports, err := openReportStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open report store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	if c, ok := reports.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	// Sessions and rate limits live in Redis when configured.
	var (
		sessions    conversation.SessionStore = memory.NewSessionStore(memory.WithRetention(cfg.SessionRetention))
		rateLimiter api.RateLimiter
		checks      []httpadapter.Check
	)
	if cfg.RedisAddr != "" {
		client, err := redisadapter.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		closers = append(closers, client.Close)
		redisSessions := redisadapter.NewSessionStore(client, cfg.SessionRetention, logger)
		sessions = redisSessions
		checks = append(checks, httpadapter.Check{Name: "sessions", Checker: redisSessions})
		if cfg.RateLimitPerDay > 0 {
			rateLimiter = redisadapter.NewRateLimiter(client, cfg.RateLimitPerDay, 24*time.Hour)
		}
		logger.Info("redis session store enabled", "addr", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set; sessions are kept in memory and lost on restart")
		if cfg.RateLimitPerDay > 0 {
			logger.Warn("RATE_LIMIT_PER_DAY requires REDIS_ADDR; rate limiting disabled")
		}
	}

	var opts []lifecycle.Option

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		opts = append(opts, lifecycle.WithGeocoder(mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	if cfg.EventsEnabled() {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger)
		closers = append(closers, writer.Close)
		opts = append(opts, lifecycle.WithEvents(writer))
		logger.Info("report events enabled", "topic", cfg.KafkaEventsTopic)
	}

	engine := dedup.New(reports, cfg.ConfirmationRadiusMeters, metrics)
	manager := lifecycle.NewManager(reports, engine, logger, metrics, opts...)
	checks = append([]httpadapter.Check{{Name: "storage", Checker: manager}}, checks...)

	var classifier domain.Classifier
	if cfg.DetectorConfigured() {
		classifier = roboflow.NewClient(cfg.DetectorURL, cfg.DetectorAPIKey, cfg.DetectorModel, cfg.DetectorTimeout, logger)
	}
	imageGate := gate.New(classifier, gate.Options{
		Threshold:   cfg.GateThreshold,
		Class:       cfg.GateClass,
		Passthrough: cfg.GatePassthrough,
	}, logger, metrics)

	mediaStore, err := media.NewStore(cfg.MediaDir)
	if err != nil {
		logger.Error("failed to prepare media directory", "dir", cfg.MediaDir, "error", err)
		os.Exit(1)
	}

	p := pipeline.New(imageGate, mediaStore, manager, logger, metrics)
	fetcher := twilio.NewMediaClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.MediaTimeout, cfg.MediaMaxBytes, logger)
	chat := conversation.NewStateMachine(sessions, fetcher, p, logger, metrics)

	reaper, err := conversation.NewReaper(sessions, cfg.SessionIdleTTL, cfg.SessionReapSchedule, logger, metrics)
	if err != nil {
		logger.Error("failed to schedule session reaper", "error", err)
		os.Exit(1)
	}

	apiSrv := api.NewServer(cfg.APIAddr, manager, p, chat, api.Options{
		AdminToken:     cfg.AdminToken,
		CORSOrigins:    cfg.CORSOrigins,
		MediaDir:       mediaStore.Root(),
		MaxUploadBytes: cfg.MediaMaxBytes,
		RateLimiter:    rateLimiter,
	}, logger)
	opsSrv := httpadapter.NewServer(cfg.HTTPAddr, logger, checks...)

	for name, srv := range map[string]interface{ Start() error }{"api": apiSrv, "ops": opsSrv} {
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "server", name, "error", err)
				stop()
			}
		}()
	}
	reaper.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", "error", err)
	}
	reaper.Stop(shutdownCtx)
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "error", err)
	}
	for _, c := range closers {
		if err := c(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// openReportStore returns the configured store, creating the MySQL table on first use.
func openReportStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lifecycle.ReportStore, error) {
	if cfg.StoreDriver != config.StoreMySQL {
		logger.Warn("using in-memory report store; reports are lost on restart")
		return memory.NewReportStore(), nil
	}
	db, err := mysqladapter.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	store := mysqladapter.NewReportStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
