// Package bootstrap wires the process-wide runtime dependencies.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"campus/internal/cache"
	"campus/internal/config"
	"campus/internal/database"
	"campus/internal/models"
	"campus/internal/observability"
	"campus/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty development database with a demo campus.
	SeedDemo bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.SeedDemo {
		if err := seedIfEmpty(ctx, cfg, db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

// ServiceName identifies this process in traces and metrics.
const ServiceName = "campus-comments"

// TracingConfig maps the TRACING_* settings onto the tracer setup.
func TracingConfig(cfg *config.Config) observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:  ServiceName,
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: cfg.TracingSamplerRatio,
	}
}

// InitTracing installs the tracer provider described by cfg.
func InitTracing(cfg *config.Config) (func(context.Context) error, error) {
	shutdown, err := observability.InitTracing(TracingConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	return shutdown, nil
}

// seedIfEmpty seeds the demo campus when running in development against a database
// without users.
func seedIfEmpty(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil || cfg.Env != "development" {
		return nil
	}

	var users int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}

	if _, err := seed.NewSeeder(db, seed.DefaultOptions).Run(ctx); err != nil {
		return err
	}
	log.Printf("development database seeded with demo campus")
	return nil
}
