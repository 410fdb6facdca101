package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/cli/config"
	controller "github.com/m-mizutani/drover/pkg/controller/http"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/infra/coverage"
	githubinfra "github.com/m-mizutani/drover/pkg/infra/github"
	"github.com/m-mizutani/drover/pkg/infra/notify"
	"github.com/m-mizutani/drover/pkg/infra/store"
	"github.com/m-mizutani/drover/pkg/usecase"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		serverCfg   config.Server
		githubCfg   config.GitHub
		runnerCfg   config.Runner
		coverageCfg config.Coverage
		notifyCfg   config.Notify
		sentryCfg   config.Sentry
	)

	flags := serverCfg.Flags()
	flags = append(flags, githubCfg.Flags()...)
	flags = append(flags, runnerCfg.Flags()...)
	flags = append(flags, coverageCfg.Flags()...)
	flags = append(flags, notifyCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server and run workflows on webhook events",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			sentryEnabled, err := sentryCfg.Configure()
			if err != nil {
				return err
			}
			if sentryEnabled {
				defer sentry.Flush(2 * time.Second)
			}

			runnerOpts := buildRunnerOptions(&githubCfg, &runnerCfg, &coverageCfg, loadSecretsFromEnv())

			var runStore interfaces.RunStore
			if serverCfg.StorePath != "" {
				runStore, err = store.New(serverCfg.StorePath)
				if err != nil {
					return err
				}
				defer runStore.Close()
				runnerOpts = append(runnerOpts, usecase.WithRunStore(runStore))
			}

			if notifyCfg.Enabled() {
				runnerOpts = append(runnerOpts, usecase.WithNotifier(notify.NewSlack(notifyCfg.SlackWebhookURL)))
			}

			runner := newRunner(runnerOpts)
			webhookUC := usecase.NewWebhook(runner, serverCfg.WorkflowDir)

			serverOpts := []controller.Option{
				controller.WithAddr(serverCfg.Addr),
				controller.WithWebhookSecret(githubCfg.WebhookSecret),
			}
			if runStore != nil {
				serverOpts = append(serverOpts, controller.WithRunStore(runStore))
			}

			server, err := controller.NewServer(ctx, webhookUC, serverOpts...)
			if err != nil {
				return goerr.Wrap(err, "failed to create HTTP server")
			}

			// Start server in goroutine
			go func() {
				logger.Info("HTTP server starting",
					slog.String("addr", serverCfg.Addr),
					slog.String("workflow_dir", serverCfg.WorkflowDir),
				)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", slog.Any("error", err))
				}
			}()

			// Wait for interrupt signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			}

			// Graceful shutdown
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}

// buildRunnerOptions assembles the runner options shared by serve and run.
func buildRunnerOptions(githubCfg *config.GitHub, runnerCfg *config.Runner, coverageCfg *config.Coverage, secrets map[string]string) []usecase.RunnerOption {
	opts := []usecase.RunnerOption{
		usecase.WithSourceFetcher(githubinfra.NewClient(githubCfg.APIToken)),
		usecase.WithWorkspaceRoot(runnerCfg.Workspace),
		usecase.WithStepTimeout(runnerCfg.StepTimeout),
	}

	if coverageCfg.Enabled() {
		opts = append(opts, usecase.WithCoverageUploader(coverage.New(coverageCfg.Endpoint, coverageCfg.Token)))
	}
	if len(secrets) > 0 {
		opts = append(opts, usecase.WithSecrets(secrets))
	}

	return opts
}
