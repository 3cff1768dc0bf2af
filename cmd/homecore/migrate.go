package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/homecore/internal/infrastructure/config"
	"github.com/nerrad567/homecore/internal/infrastructure/database"
	"github.com/nerrad567/homecore/migrations"
)

const migrateUsage = "usage: homecore migrate status|up|down"

// errMigrateUsage is returned for a missing or unknown migrate action.
var errMigrateUsage = errors.New(migrateUsage)

// migrate runs one schema action against the configured database:
//
//	status  list applied and pending migrations
//	up      apply every pending migration
//	down    revert the most recently applied migration
func migrate(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errMigrateUsage
	}
	action := args[0]
	if action != "status" && action != "up" && action != "down" {
		return fmt.Errorf("unknown action %q: %w", action, errMigrateUsage)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Read-only for status, committed otherwise

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.Rollback(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back: %w", err)
		}
	}
	return printMigrationStatus(ctx, db, out)
}

func printMigrationStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tVERSION\tDETAIL")
	for _, r := range applied {
		fmt.Fprintf(tw, "applied\t%s\t%s\n", r.Version, r.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "pending\t%s\t%s\n", m.Version, m.Name)
	}
	return tw.Flush()
}
