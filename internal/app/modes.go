package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/battlekeeper/internal/metrics"
	"github.com/alanyoungcy/battlekeeper/internal/pipeline"
	"github.com/alanyoungcy/battlekeeper/internal/server"
	"github.com/alanyoungcy/battlekeeper/internal/server/handler"
)

// shutdownGrace bounds how long in-flight HTTP requests may take to drain.
const shutdownGrace = 30 * time.Second

// ErrRunFailed is returned by the execute mode when the pipeline did not
// complete.
var ErrRunFailed = errors.New("app: pipeline run failed")

// KeeperMode runs the scanner loop, the HTTP server and the activity archive
// until ctx is cancelled.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode",
		slog.Duration("scan_interval", a.cfg.Battle.ScanInterval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Scanner.RunLoop(ctx, a.cfg.Battle.ScanInterval.Duration, nil)
	})

	if a.cfg.Server.Enabled {
		srv := a.buildServer(deps)
		g.Go(func() error {
			return srv.Run(ctx, shutdownGrace)
		})
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	return ignoreCanceled(g.Wait())
}

// ScanMode makes one scanner pass and writes its summary as JSON.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	res, err := deps.Scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("app: scan: %w", err)
	}
	return a.writeResult(res)
}

// ExecuteMode runs the pipeline once for assetID and writes the result as
// JSON. A failed run returns ErrRunFailed after the result is written.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies, assetID string) error {
	res := deps.Scanner.Execute(ctx, assetID)
	if err := a.writeResult(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrRunFailed, res.Error)
	}
	return nil
}

// ServerMode serves the HTTP API only. Scans happen when the scheduler or an
// operator calls the scan route.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return ignoreCanceled(a.buildServer(deps).Run(ctx, shutdownGrace))
}

func (a *App) buildServer(deps *Dependencies) *server.Server {
	return server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		SchedulerSecret: a.cfg.Server.SchedulerSecret,
		RateLimit:       a.cfg.Server.RateLimit,
		RateWindow:      a.cfg.Server.RateWindow.Duration,
		RunBudget:       deps.Params.RunBudget,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health, a.logger),
		Battles: handler.NewBattleHandler(deps.Scanner, a.logger),
		Metrics: metrics.Handler(deps.Registry),
	}, deps.RateLimiter, a.logger)
}

func (a *App) writeResult(v any) error {
	enc := json.NewEncoder(a.opts.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("app: write result: %w", err)
	}
	return nil
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
