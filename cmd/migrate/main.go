// Command migrate manages the comment service schema.
//
//	migrate up            apply embedded SQL migrations
//	migrate auto          run GORM AutoMigrate (refused in prod-like envs)
//	migrate status        show the schema policy, pending migrations and missing tables
//	migrate verify        fail unless every comment table exists
//	migrate down <ver>    roll back one migration
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"campus/internal/config"
	"campus/internal/database"

	"gorm.io/gorm"
)

var errUsage = errors.New("usage: migrate <up|auto|status|verify|down> [version]")

func main() {
	flag.Parse()
	if err := run(context.Background(), flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		log.Println("sql migrations applied")
		return nil
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		log.Println("automigrations applied")
		return nil
	case "status":
		return status(ctx, db, cfg)
	case "verify":
		if missing := database.MissingTables(db.WithContext(ctx)); len(missing) > 0 {
			return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
		}
		log.Println("comment schema complete")
		return nil
	case "down":
		if len(args) < 2 {
			return errors.New("usage: migrate down <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.RollbackMigration(ctx, db, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Printf("rolled back migration %06d", version)
		return nil
	}
	return errUsage
}

func status(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	st, err := database.GetSchemaStatus(ctx, db, cfg)
	if err != nil {
		return fmt.Errorf("schema status failed: %w", err)
	}
	log.Printf("mode=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d",
		st.Mode, st.Environment, st.WillRunSQL, st.WillRunAutoMigrate,
		len(st.AppliedVersions), len(st.PendingMigrations))
	for _, m := range st.PendingMigrations {
		log.Printf("pending: %06d_%s", m.Version, m.Name)
	}
	if len(st.MissingTables) > 0 {
		log.Printf("missing tables: %s", strings.Join(st.MissingTables, ", "))
	}
	return nil
}
