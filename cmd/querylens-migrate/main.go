package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/datastore"
	"github.com/querylens/querylens/internal/migrations"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/seed"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	seedPath := flag.String("seed", "", "placements CSV to load after migrating up")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	flag.Parse()

	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("querylens-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, dialect, err := datastore.Open(ctx, datastore.Config{
		Driver:          cfg.Datastore.Driver,
		DSN:             cfg.Datastore.DSN,
		MaxOpenConns:    cfg.Datastore.MaxOpenConns,
		MaxIdleConns:    cfg.Datastore.MaxIdleConns,
		ConnMaxIdleTime: cfg.Datastore.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Datastore.ConnMaxLifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner(dialect)
	if *direction != "up" && *seedPath != "" {
		fmt.Fprintln(os.Stderr, "-seed can only be used with -direction up")
		os.Exit(1)
	}
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		applied, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", applied)
	case "status":
		statuses, err := runner.Status(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration status failed: %v\n", err)
			os.Exit(1)
		}
		modified := false
		for _, status := range statuses {
			state := "pending"
			switch {
			case status.Modified:
				state = "modified"
				modified = true
			case status.Applied:
				state = "applied"
			}
			fmt.Printf("%06d_%s\t%s\n", status.Version, status.Name, state)
		}
		if modified {
			os.Exit(2)
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}

	if *seedPath == "" {
		return
	}
	file, err := os.Open(*seedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = file.Close() }()

	stats, err := seed.Placements(ctx, db, file, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d placement row(s), skipped %d\n", stats.Inserted, stats.Skipped)
}
