package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"speakerscribe/internal/deps"
	"speakerscribe/internal/jobs"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/preflight"
	"speakerscribe/internal/server"
)

const shutdownGrace = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web upload and job API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(bind) != "" {
				cfg.Server.Bind = strings.TrimSpace(bind)
			}
			if err := cfg.EnsureServerDirectories(); err != nil {
				return err
			}
			logger, err := ctx.newLogger("speakerscribe-server.log")
			if err != nil {
				return err
			}

			var failed []string
			for _, r := range preflight.Failed(preflight.RunAll(cmd.Context(), cfg, true, ctx.checkers)) {
				if r.Name == "Hugging Face token" || r.Name == "GPU" {
					logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
						logging.String("check", r.Name),
						logging.String("detail", r.Detail),
						logging.String(logging.FieldImpact, "jobs may degrade or fail"),
					)
					continue
				}
				failed = append(failed, r.Name+": "+r.Detail)
			}
			if len(failed) > 0 {
				return fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
			}

			lockPath := filepath.Join(cfg.Paths.LockDir, "serve.lock")
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return errors.New("another speakerscribe server is already running")
			}
			defer func() { _ = lock.Unlock() }()

			store, err := jobs.Open()
			if err != nil {
				return err
			}
			defer store.Close()

			runner, err := jobs.NewRunner(store, cfg, logger, jobs.WithWorkerFlags(ctx.workerFlags()...))
			if err != nil {
				return err
			}
			srv, err := server.New(cfg, store, runner, logger, server.WithDependencyCheck(func(ctx context.Context) []deps.Status {
				return preflight.CheckSystemDeps(ctx, cfg)
			}))
			if err != nil {
				return err
			}

			runCtx := cmd.Context()
			if err := srv.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", srv.Addr())
			logger.Info("speakerscribe server started",
				logging.String("address", srv.Addr()),
				logging.Int("workers", cfg.Server.WorkerPoolSize),
				logging.Bool("auth", cfg.Server.APIToken != ""),
				logging.String("lock", lockPath),
			)

			<-runCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("http shutdown incomplete", logging.Error(err))
			}
			if err := runner.Shutdown(shutdownCtx); err != nil {
				logger.Warn("job shutdown incomplete", logging.Error(err))
			}
			logger.Info("speakerscribe server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides server.bind)")
	return cmd
}
