package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/allisson/syncbox/internal/app"
	"github.com/allisson/syncbox/internal/config"
	syncService "github.com/allisson/syncbox/internal/sync/service"
)

// RunSweep runs a single sync sweep against the server of record and exits.
// Useful for cron-driven deployments and for draining a backlog by hand.
// Supports both text and JSON output formats.
//
// Requirements: Database must be migrated and accessible.
func RunSweep(ctx context.Context, format string, io IOTuple) error {
	// Validate format parameter
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format: %s (valid options: text, json)", format)
	}

	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("running sync sweep", slog.String("server_url", cfg.SyncServerURL))

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get sync engine from container
	engine, err := container.SyncEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize sync engine: %w", err)
	}

	summary, err := engine.SweepAll(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	// Output result based on format
	if format == "json" {
		if err := outputSweepJSON(io, summary); err != nil {
			return err
		}
	} else {
		outputSweepText(io, summary)
	}

	logger.Info("sweep completed",
		slog.Int("attempted", summary.Attempted),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("dead_lettered", summary.DeadLettered),
	)

	return nil
}

// outputSweepText outputs the result in human-readable text format.
func outputSweepText(io IOTuple, summary syncService.Summary) {
	fmt.Fprintf(io.Writer, "Sweep finished: %d attempted, %d succeeded, %d failed, %d dead-lettered\n",
		summary.Attempted, summary.Succeeded, summary.Failed, summary.DeadLettered)
}

// outputSweepJSON outputs the result in JSON format for machine consumption.
func outputSweepJSON(io IOTuple, summary syncService.Summary) error {
	jsonBytes, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	fmt.Fprintln(io.Writer, string(jsonBytes))
	return nil
}
