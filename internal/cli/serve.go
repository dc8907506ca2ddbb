package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "opscal/internal/log"
	"opscal/internal/model"
	"opscal/internal/pipeline"
	"opscal/internal/refresh"
	"opscal/internal/web"
)

func newServeCmd(opts *options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the alert refresh scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			// --listen overrides config file listen if provided.
			if listen != "" {
				e.cfg.Listen = listen
			}

			appLog.Info("opscal starting", "version", version)
			appLog.Info("effective config",
				"listen", e.cfg.Listen,
				"timezone", e.cfg.Timezone,
				"database", e.cfg.Database,
				"refresh", e.cfg.RefreshCron,
				"horizon_end", e.cfg.HorizonEnd,
				"tenants", len(e.cfg.Tenants),
				"default_horizon_days", e.cfg.DefaultHorizonDays,
				"alert_lookahead_hours", e.cfg.AlertLookaheadHours,
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			dismissals := e.db.Dismissals()
			srv := web.NewServer(e.cfg, e.db, dismissals)

			runner := refresh.New(pipeline.New(e.cfg), e.db, dismissals, model.Viewer{Role: elevatedRole(e.cfg.ElevatedRoles)})
			runner.OnReport = func(refresh.Report) { srv.Invalidate() }
			if _, err := runner.RunOnce(ctx); err != nil {
				appLog.Error("initial evaluation failed", err)
			}
			if err := runner.Start(e.cfg.RefreshCron); err != nil {
				return err
			}
			defer runner.Stop()

			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLog.Error("HTTP server failed", err)
				return err
			}
			appLog.Info("opscal exiting")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

// elevatedRole picks a role that sees every occurrence, for background jobs.
func elevatedRole(roles []string) string {
	if len(roles) == 0 {
		return "administrator"
	}
	return roles[0]
}
