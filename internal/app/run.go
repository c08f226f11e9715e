package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/byteflow/internal/ctxlog"
	"github.com/vk/byteflow/internal/dag"
	"github.com/vk/byteflow/internal/nodeid"
	"github.com/vk/byteflow/internal/pipeline"
	"github.com/vk/byteflow/internal/report"
)

// Run loads the configured pipeline, evaluates it once, and renders the
// outcome of every node. A node failure makes the run fail after the full
// report has been rendered.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	graph, names, err := pipeline.LoadAndBuild(ctx, a.registry, cfg.PipelinePath)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	a.logger.Debug("Pipeline graph built.", "node_count", graph.Len())

	if graph.Len() == 0 {
		a.logger.Warn("No nodes found in pipeline, nothing to evaluate.")
		return nil
	}

	opts := dag.Options{Workers: cfg.WorkerCount}
	if cfg.TimeoutSecs > 0 {
		opts.Timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}

	a.logger.Info("Starting pipeline evaluation.", "nodes", graph.Len(), "workers", opts.Workers)
	rep, err := graph.Evaluate(ctx, opts)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	failed := a.renderReport(rep, names)
	a.logger.Info("Pipeline evaluation finished.",
		"runID", rep.RunID(), "duration", rep.FinishedAt().Sub(rep.StartedAt()).String())

	if failed > 0 {
		return fmt.Errorf("pipeline completed with %d failed node(s)", failed)
	}
	return nil
}

// renderReport logs one line per node outcome and returns the failure count.
func (a *App) renderReport(rep *report.Report, names map[string]nodeid.ID) int {
	byID := make(map[nodeid.ID]string, len(names))
	for name, id := range names {
		byID[id] = name
	}

	failed := 0
	for _, id := range rep.NodeIDs() {
		out, _ := rep.Outcome(id)
		name := byID[id]
		switch out.Status {
		case report.Succeeded:
			a.logger.Info("Node succeeded.", "node", name, "fromCache", out.FromCache)
		case report.Failed:
			failed++
			a.logger.Error("Node failed.", "node", name, "error", out.Error)
		case report.Skipped:
			a.logger.Warn("Node skipped.", "node", name, "reason", out.Reason.String())
		}
	}
	return failed
}
