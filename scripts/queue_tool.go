package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"fleetsync/internal/models"
	"fleetsync/internal/queue"
	"fleetsync/internal/report"
	"fleetsync/internal/repository"

	"github.com/rs/zerolog"
)

// Inspects or exports the offline queue of a stopped agent.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		dbPath     = flag.String("db", "./data/fleetsync.db", "path to sqlite store")
		action     = flag.String("action", "list", "list | report | clear")
		outPath    = flag.String("out", "pending_submissions.xlsx", "report output path")
		maxRetries = flag.Int("max-retries", models.DefaultMaxRetries, "retry ceiling used to flag exhausted items")
	)
	flag.Parse()

	store, err := repository.NewSQLiteKVStore(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q := queue.New(store, &logger)

	switch *action {
	case "list":
		items, err := q.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		for _, it := range items {
			lastErr := ""
			if it.LastError != nil {
				lastErr = *it.LastError
			}
			fmt.Printf("%s\ttrip=%s\tretries=%d\texhausted=%t\tcreated=%s\t%s\n",
				it.LocalID, it.Payload.TripID, it.RetryCount, it.Exhausted(*maxRetries),
				it.CreatedAt.Format(time.RFC3339), lastErr)
		}
		fmt.Printf("done: pending=%d\n", len(items))

	case "report":
		items, err := q.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", *outPath, err)
		}
		defer f.Close()
		if err := report.WritePendingReport(f, items, *maxRetries); err != nil {
			return err
		}
		fmt.Printf("done: wrote %d rows to %s\n", len(items), *outPath)

	case "clear":
		if err := q.Clear(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if err := store.Delete(ctx, models.KeySyncStatus); err != nil {
			return fmt.Errorf("reset status: %w", err)
		}
		fmt.Println("done: queue cleared")

	default:
		return fmt.Errorf("unknown action %q", *action)
	}
	return nil
}
