// Command backfill-addresses fills in missing report addresses by reverse
// geocoding each report's location, falling back to a coordinate label.
// It uses the same environment as the service.
//
// Usage:
//
//	go run ./cmd/backfill-addresses -pause 100ms
//	go run ./cmd/backfill-addresses -dry-run
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/road-hazard-service/internal/adapter/mapbox"
	mysqladapter "github.com/couchcryptid/road-hazard-service/internal/adapter/mysql"
	"github.com/couchcryptid/road-hazard-service/internal/config"
	"github.com/couchcryptid/road-hazard-service/internal/dedup"
	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/lifecycle"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("address backfill failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	pause := flag.Duration("pause", 100*time.Millisecond, "delay between geocoding requests")
	dryRun := flag.Bool("dry-run", false, "resolve addresses without saving them")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.StoreMySQL {
		return fmt.Errorf("STORE_DRIVER must be %q to backfill stored reports", config.StoreMySQL)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := mysqladapter.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	store := mysqladapter.NewReportStore(db)

	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		geocoder = mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
	} else {
		logger.Warn("mapbox geocoding disabled; every report gets a coordinate label")
	}

	manager := lifecycle.NewManager(store, dedup.New(store, cfg.ConfirmationRadiusMeters, metrics), logger, metrics)
	stats, err := backfill(ctx, manager, geocoder, *pause, *dryRun, logger)
	logger.Info("address backfill finished",
		"found", stats.found,
		"geocoded", stats.geocoded,
		"fallback", stats.fallback,
		"failed", stats.failed,
		"dry_run", *dryRun,
	)
	return err
}

type addressBook interface {
	List(ctx context.Context, filter domain.ReportFilter) ([]domain.Report, error)
	SetAddress(ctx context.Context, id, address string) (domain.Report, error)
}

type backfillStats struct {
	found, geocoded, fallback, failed int
}

// backfill resolves an address for every report that lacks one. A failed
// update is logged and skipped; only cancellation or a failed listing stops it.
func backfill(ctx context.Context, book addressBook, geocoder domain.Geocoder, pause time.Duration, dryRun bool, logger *slog.Logger) (backfillStats, error) {
	var stats backfillStats

	reports, err := book.List(ctx, domain.ReportFilter{})
	if err != nil {
		return stats, fmt.Errorf("list reports: %w", err)
	}

	for _, r := range reports {
		if r.Address != "" {
			continue
		}
		stats.found++

		resolved := domain.ResolveAddress(ctx, r, geocoder, logger)
		address := resolved.Address
		if address == "" {
			address = domain.FallbackAddress(r.Location)
			stats.fallback++
		} else {
			stats.geocoded++
		}

		if dryRun {
			logger.Info("would update address", "report_id", r.ID, "address", address)
		} else if _, err := book.SetAddress(ctx, r.ID, address); err != nil {
			stats.failed++
			logger.Error("update address failed", "report_id", r.ID, "error", err)
		} else {
			logger.Info("updated address", "report_id", r.ID, "address", address)
		}

		if geocoder != nil && !retry.SleepWithContext(ctx, pause) {
			return stats, ctx.Err()
		}
	}
	return stats, nil
}
