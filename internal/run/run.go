// Package run is the driver: it builds the deterministic workload, hands it
// to the chosen backend, verifies the results and reports the aggregate.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"iotriad/internal/backend"
	"iotriad/internal/config"
	"iotriad/internal/report"
	"iotriad/internal/resource"
	"iotriad/internal/workload"
)

// Execute performs one run against the given backend. Per-operation errors
// end up in the summary; only backend-level failures are returned.
func Execute(backendName string, b backend.Backend, cfg *config.RunConfig) error {
	resources, err := resource.OpenAll(cfg.Resources, resource.Options{})
	if err != nil {
		return fmt.Errorf("failed to open resources: %w", err)
	}
	defer func() {
		if cerr := resource.CloseAll(resources); cerr != nil {
			slog.Warn("Resource teardown failed", "error", cerr)
		}
	}()

	shape := workload.Shape{
		Ops:         cfg.Ops,
		PayloadSize: cfg.PayloadSize,
		ReadRatio:   cfg.ReadRatio,
		Timeout:     cfg.OpTimeout,
	}
	ops, err := workload.Generate(shape, resources)
	if err != nil {
		return fmt.Errorf("failed to generate workload: %w", err)
	}

	var feed resource.FeedFunc
	if workload.NeedsFeed(ops) {
		feed = workload.FeedAt
	}
	for _, r := range resources {
		r.StartPump(feed)
	}

	slog.Info("Workload ready",
		"backend", backendName,
		"ops", cfg.Ops,
		"resources", cfg.Resources,
		"payloadSize", cfg.PayloadSize,
		"readRatio", cfg.ReadRatio,
		"opTimeout", cfg.OpTimeout)

	start := time.Now()
	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		return fmt.Errorf("backend failed: %w", err)
	}
	elapsed := time.Since(start)

	if err := workload.VerifyCompletions(ops, completions); err != nil {
		return fmt.Errorf("completion invariant violated: %w", err)
	}

	summary := report.Aggregate(uuid.NewString(), backendName, cfg.Resources, cfg.PayloadSize, completions, elapsed)
	summary.Print()

	if cfg.ResultPath != "" {
		if err := summary.WriteFile(cfg.ResultPath); err != nil {
			return err
		}
		slog.Info("Summary written", "path", cfg.ResultPath)
	}

	return nil
}
