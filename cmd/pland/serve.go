package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/config"
	"github.com/fyrsmithlabs/pland/internal/logging"
	"github.com/fyrsmithlabs/pland/internal/registry"
	"github.com/fyrsmithlabs/pland/internal/server"
	"github.com/fyrsmithlabs/pland/internal/writegate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pland daemon",
	Long: `Run pland as a daemon: runs are triggered over HTTP, run status is
queryable, and Prometheus metrics are exposed on /metrics.

Examples:
  pland serve
  pland serve --config /etc/pland/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer logging.Sync(p.logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WriteGate.Watch && cfg.WriteGate.RulesPath != "" {
		go func() {
			err := writegate.Watch(ctx, cfg.WriteGate.RulesPath, p.logger.Named("writegate"), p.gate.Swap)
			if err != nil && ctx.Err() == nil {
				p.logger.Error("rule watcher stopped", zap.Error(err))
			}
		}()
	}

	srv, err := server.New(p.registry, p.launcher(ctx), p.logger.Named("http"), cfg.Server.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// launcher adapts the orchestrator to the HTTP trigger endpoint. Runs
// execute on the daemon context, not the request context, so they
// survive the client disconnecting.
func (p *pipeline) launcher(daemonCtx context.Context) server.RunLauncher {
	return func(_ context.Context, workItemKey string) (string, error) {
		phases, err := p.phasesFor(workItemKey)
		if err != nil {
			return "", err
		}

		errCh := make(chan error, 1)
		go func() {
			ctx := logging.WithWorkItem(daemonCtx, workItemKey)
			_, err := p.orch.Run(ctx, workItemKey, phases)
			if err != nil {
				p.logger.Error("run failed to start",
					zap.String("work_item", workItemKey), zap.Error(err))
			}
			errCh <- err
		}()

		// Wait for the run to register so the response can carry its ID.
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case err := <-errCh:
				if err != nil {
					return "", err
				}
				if rec, ok := p.registry.ByKey(workItemKey); ok {
					return rec.RunID, nil
				}
				return "", fmt.Errorf("run for %s finished without a record", workItemKey)
			case <-tick.C:
				if rec, ok := p.registry.ByKey(workItemKey); ok && rec.Status == registry.RunStatusRunning {
					return rec.RunID, nil
				}
			case <-deadline:
				return "", fmt.Errorf("timed out waiting for run %s to register", workItemKey)
			}
		}
	}
}
