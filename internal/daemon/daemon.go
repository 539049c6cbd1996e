package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/bridge"
	"github.com/srg/bpbridge/internal/sink"
)

const DefaultRunTimeout = 10 * time.Minute

// Syncer runs one sync.
type Syncer interface {
	Sync(ctx context.Context, opts bridge.Options) (*bridge.Report, error)
}

// StatusPublisher announces the bridge status, e.g. on the MQTT status topic.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status, message string) error
}

// Observer receives every finished report.
type Observer interface {
	Observe(r *bridge.Report)
}

// Config configures the daemon. Status and Observer are optional.
type Config struct {
	// Schedule is a cron expression or an interval such as "30m"
	Schedule string
	// RunTimeout bounds a single run
	RunTimeout time.Duration
	RunOnStart bool
	Options    bridge.Options

	Status   StatusPublisher
	Observer Observer
}

// Daemon re-runs the sync on a schedule. It keeps no state between runs;
// the ledger is the only memory.
type Daemon struct {
	syncer   Syncer
	cfg      Config
	schedule cron.Schedule
	logger   *logrus.Logger

	mu   sync.Mutex
	runs int
}

func New(syncer Syncer, cfg Config, logger *logrus.Logger) (*Daemon, error) {
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon schedule: %w", err)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	return &Daemon{syncer: syncer, cfg: cfg, schedule: sched, logger: logger}, nil
}

// Run blocks until ctx is cancelled. A run in flight is cancelled with ctx
// and waited for. Publishing "offline" is left to the status publisher's
// owner, which also owns its connection.
func (d *Daemon) Run(ctx context.Context) error {
	d.publish(ctx, sink.StatusOnline, "")

	c := cron.New(
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(d.logger))),
	)
	c.Schedule(d.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		d.RunOnce(ctx)
	}))

	if d.cfg.RunOnStart {
		d.RunOnce(ctx)
	}

	d.logger.WithFields(logrus.Fields{
		"schedule": d.cfg.Schedule,
		"next":     d.schedule.Next(time.Now()).Format(time.RFC3339),
	}).Info("Daemon started")
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	d.logger.WithField("runs", d.Runs()).Info("Daemon stopped")
	return nil
}

// RunOnce performs one bounded sync and publishes its status.
func (d *Daemon) RunOnce(ctx context.Context) *bridge.Report {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.RunTimeout)
	defer cancel()

	d.mu.Lock()
	d.runs++
	d.mu.Unlock()

	report, err := d.syncer.Sync(runCtx, d.cfg.Options)
	if report != nil && d.cfg.Observer != nil {
		d.cfg.Observer.Observe(report)
	}

	switch {
	case ctx.Err() != nil:
		// shutting down
	case err != nil:
		d.logger.WithField("error", err).Error("Scheduled sync failed")
		d.publish(ctx, sink.StatusError, err.Error())
	case report.Outcome() != bridge.OutcomeSuccess:
		d.logger.WithField("summary", report.Summary()).Warn("Scheduled sync finished with failures")
		d.publish(ctx, sink.StatusError, report.Summary())
	default:
		d.logger.WithField("summary", report.Summary()).Info("Scheduled sync finished")
		d.publish(ctx, sink.StatusSynced, report.Summary())
	}
	return report
}

// Runs returns how many runs were started.
func (d *Daemon) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

func (d *Daemon) publish(ctx context.Context, status, message string) {
	if d.cfg.Status == nil {
		return
	}
	if err := d.cfg.Status.PublishStatus(ctx, status, message); err != nil {
		d.logger.WithFields(logrus.Fields{
			"status": status,
			"error":  err,
		}).Warn("Failed to publish bridge status")
	}
}
