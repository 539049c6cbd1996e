package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bpbridge/internal/bridge"
	"github.com/srg/bpbridge/internal/daemon"
	"github.com/srg/bpbridge/internal/groutine"
	"github.com/srg/bpbridge/internal/metrics"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync on a schedule until stopped",
	Long: `Runs a sync on start and then on a schedule until interrupted.

The schedule is daemon.schedule (a cron expression such as "0 */2 * * *" or
"@hourly") or, when empty, daemon.interval. With daemon.metrics_addr set,
Prometheus metrics are served on /metrics.`,
	RunE: runDaemon,
}

var (
	daemonSchedule string
	daemonNoStart  bool
)

func init() {
	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "", "Cron expression or interval; overrides the configuration")
	daemonCmd.Flags().BoolVar(&daemonNoStart, "no-initial-sync", false, "Wait for the first scheduled run instead of syncing on start")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	l, err := a.openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	pub := a.buildPublisher()
	b, err := a.buildBridge(l, pub, nil)
	if err != nil {
		return err
	}

	schedule := a.cfg.DaemonSchedule()
	if daemonSchedule != "" {
		schedule = daemonSchedule
	}

	m := metrics.New()
	dcfg := daemon.Config{
		Schedule:   schedule,
		RunTimeout: a.cfg.Daemon.RunTimeout,
		RunOnStart: !daemonNoStart,
		Options:    bridge.Options{Mode: bridge.ModeFull},
		Observer:   m,
	}
	if pub != nil {
		dcfg.Status = pub
	}
	d, err := daemon.New(b, dcfg, a.logger)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context(), "daemon")
	defer cancel()

	if addr := a.cfg.Daemon.MetricsAddr; addr != "" {
		groutine.Go(ctx, "metrics-server", func(ctx context.Context) {
			if err := m.Serve(ctx, addr, a.logger); err != nil {
				a.logger.WithField("error", err).Error("Metrics server failed")
			}
		})
	}

	runErr := d.Run(ctx)

	if pub != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		pub.Close(closeCtx)
		closeCancel()
	}
	return runErr
}
