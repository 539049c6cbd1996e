package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/groutine"
	"github.com/srg/bpbridge/internal/ledger"
	"github.com/srg/bpbridge/internal/record"
	"github.com/srg/bpbridge/internal/sink"
)

// Mode selects the sinks a run delivers to.
type Mode string

const (
	ModeFull       Mode = "full"
	ModeCloudOnly  Mode = "cloud-only"
	ModeBrokerOnly Mode = "broker-only"
)

// DefaultPendingLimit caps how many earlier failures one run retries per sink.
const DefaultPendingLimit = 100

// ErrNoSinks is returned when the mode leaves no configured sink to deliver to.
var ErrNoSinks = errors.New("no sink enabled")

// ParseMode validates a mode name. An empty name is ModeFull.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeFull, nil
	case ModeFull, ModeCloudOnly, ModeBrokerOnly:
		return m, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q", s)
	}
}

// User binds a person to a device user slot.
type User struct {
	Name    string
	Account string // cloud account
	Slot    int
	Cloud   bool
	Broker  bool
}

func (u User) enabled(s ledger.Sink) bool {
	switch s {
	case ledger.Cloud:
		return u.Cloud
	case ledger.Broker:
		return u.Broker
	default:
		return false
	}
}

// Ledger is the delivery bookkeeping a run consults and updates.
type Ledger interface {
	IsDelivered(ctx context.Context, id record.Identity, s ledger.Sink) (bool, error)
	RecordDelivery(ctx context.Context, id record.Identity, s ledger.Sink, payload record.Payload, outcome ledger.Outcome) error
	Pending(ctx context.Context, s ledger.Sink, limit int) ([]ledger.PendingDelivery, error)
}

// ProgressCallback is called when the run phase changes
type ProgressCallback func(phase string)

// Config wires a Bridge. A nil Uploader or Publisher disables that sink.
type Config struct {
	Users     []User
	Source    Source
	Ledger    Ledger
	Uploader  sink.Uploader
	Publisher sink.Publisher
	BaseTopic string
	Retry     RetryPolicy
	// PendingLimit caps retried earlier failures per sink and run
	PendingLimit int
	Progress     ProgressCallback
	Now          func() time.Time
}

// Options select what one run does.
type Options struct {
	Mode Mode
	// DryRun reads the device and consults the ledger but delivers nothing
	// and writes nothing
	DryRun bool
}

// Bridge moves measurements from the device to the sinks, exactly once per
// sink as far as the ledger knows.
type Bridge struct {
	cfg    Config
	users  []User // ordered by slot
	logger *logrus.Logger
}

func New(cfg Config, logger *logrus.Logger) (*Bridge, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("bridge requires a record source")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("bridge requires a ledger")
	}
	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("bridge requires at least one user")
	}

	users := slices.Clone(cfg.Users)
	slices.SortFunc(users, func(a, b User) int { return a.Slot - b.Slot })
	for i := 1; i < len(users); i++ {
		if users[i].Slot == users[i-1].Slot {
			return nil, fmt.Errorf("users %q and %q share slot %d", users[i-1].Name, users[i].Name, users[i].Slot)
		}
	}

	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = DefaultPendingLimit
	}
	if cfg.Progress == nil {
		cfg.Progress = func(string) {}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bridge{cfg: cfg, users: users, logger: logger}, nil
}

func (b *Bridge) sinks(mode Mode) []ledger.Sink {
	var out []ledger.Sink
	if b.cfg.Uploader != nil && mode != ModeBrokerOnly {
		out = append(out, ledger.Cloud)
	}
	if b.cfg.Publisher != nil && mode != ModeCloudOnly {
		out = append(out, ledger.Broker)
	}
	return out
}

func (b *Bridge) slots() []int {
	out := make([]int, 0, len(b.users))
	for _, u := range b.users {
		out = append(out, u.Slot)
	}
	return out
}

func (b *Bridge) user(slot int) (User, bool) {
	for _, u := range b.users {
		if u.Slot == slot {
			return u, true
		}
	}
	return User{}, false
}

// Sync runs one session and delivers what it read.
//
// The returned error is the one that aborted the run: a connect or
// handshake failure, a ledger failure or cancellation. Delivery failures do
// not abort a run; they are listed in the report. The report is returned
// in every case.
func (b *Bridge) Sync(ctx context.Context, opts Options) (*Report, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	sinks := b.sinks(mode)
	if len(sinks) == 0 {
		return nil, fmt.Errorf("%w for mode %s", ErrNoSinks, mode)
	}

	r := &run{
		Bridge: b,
		dryRun: opts.DryRun,
		report: newReport(mode, opts.DryRun, sinks, b.cfg.Now()),
	}
	r.log = b.logger.WithFields(logrus.Fields{
		"run_id":  r.report.RunID.String(),
		"mode":    mode,
		"dry_run": opts.DryRun,
	})

	err = r.execute(ctx, sinks)
	r.report.Finished = b.cfg.Now()
	if err != nil {
		r.report.Err = err
		b.cfg.Progress("Failed")
		r.log.WithField("error", err).Error("Sync aborted")
		return r.report, err
	}

	b.cfg.Progress("Done")
	r.log.WithFields(logrus.Fields{
		"outcome":  r.report.Outcome(),
		"read":     r.report.Read,
		"failures": len(r.report.Failures),
	}).Info("Sync finished")
	return r.report, nil
}

// run is the state of one Sync call.
type run struct {
	*Bridge
	dryRun bool
	log    *logrus.Entry

	mu     sync.Mutex // guards report during concurrent deliveries
	report *Report
}

type item struct {
	user User
	m    record.Measurement
}

func (r *run) execute(ctx context.Context, sinks []ledger.Sink) error {
	r.cfg.Progress("Reading device")
	res, err := r.cfg.Source.Read(ctx, r.slots(), r.dryRun)
	if err != nil {
		return err
	}

	r.report.Model = res.Model
	r.report.Partial = res.Partial
	r.report.DecodeFailures = len(res.DecodeFailures)
	for _, f := range res.DecodeFailures {
		r.log.WithFields(logrus.Fields{"slot": f.Slot, "error": f.Err}).Warn("Skipped undecodable record")
	}
	if res.Partial {
		r.log.WithField("error", res.LinkErr).Warn("Device link lost, delivering the records read so far")
	}

	var work []item
	seen := map[record.Identity]struct{}{}
	for _, u := range r.users {
		for _, m := range res.ForSlot(u.Slot) {
			work = append(work, item{user: u, m: m})
			seen[m.Identity()] = struct{}{}
		}
	}
	r.report.Read = len(work)

	if !r.dryRun {
		r.cfg.Progress("Retrying pending deliveries")
		if err := r.retryPending(ctx, sinks, seen); err != nil {
			return err
		}
	}

	r.cfg.Progress("Delivering")
	for _, it := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.process(ctx, it.user, it.m, sinks); err != nil {
			return err
		}
	}
	return nil
}

// retryPending redelivers earlier failures the device no longer reports,
// e.g. after a new_only run cleared its unread counters.
func (r *run) retryPending(ctx context.Context, sinks []ledger.Sink, seen map[record.Identity]struct{}) error {
	for _, s := range sinks {
		pending, err := r.cfg.Ledger.Pending(ctx, s, r.cfg.PendingLimit)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if _, ok := seen[p.Identity]; ok {
				continue
			}
			u, ok := r.user(p.Payload.UserSlot)
			if !ok || !u.enabled(s) {
				continue
			}
			m, err := p.Payload.Measurement()
			if err != nil {
				r.log.WithFields(logrus.Fields{"identity": p.Identity, "error": err}).Warn("Cannot retry pending delivery")
				continue
			}
			r.mu.Lock()
			r.report.Retried++
			r.mu.Unlock()
			if err := r.deliver(ctx, u, m, p.Payload, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// process delivers one record to every sink that has not had it yet. The
// sinks are served concurrently; process returns once all of them are done.
func (r *run) process(ctx context.Context, u User, m record.Measurement, sinks []ledger.Sink) error {
	id := m.Identity()
	payload := record.NewPayload(m)

	var targets []ledger.Sink
	for _, s := range sinks {
		if !u.enabled(s) {
			continue
		}
		delivered, err := r.cfg.Ledger.IsDelivered(ctx, id, s)
		if err != nil {
			return err
		}
		sr := r.sinkReport(s)
		switch {
		case delivered:
			sr.Known++
		case r.dryRun:
			sr.Pending++
			r.log.WithFields(logrus.Fields{"identity": id, "sink": s}).Info("Would deliver")
		default:
			targets = append(targets, s)
		}
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, s := range targets {
		wg.Add(1)
		groutine.Go(ctx, "deliver-"+string(s), func(ctx context.Context) {
			defer wg.Done()
			errs[i] = r.deliver(ctx, u, m, payload, s)
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// deliver sends one record to one sink with retries and records the
// outcome. Only ledger failures and cancellation are returned.
func (r *run) deliver(ctx context.Context, u User, m record.Measurement, payload record.Payload, s ledger.Sink) error {
	id := m.Identity()
	log := r.log.WithFields(logrus.Fields{
		"identity": id,
		"sink":     s,
		"slot":     m.Slot,
		"worker":   groutine.Name(ctx),
	})

	var result sink.UploadResult
	attempts, err := retry(ctx, r.cfg.Retry, func() error {
		var err error
		result, err = r.send(ctx, u, m, payload, s)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"error":   err,
		}).Warn("Delivery failed, retrying")
	})

	r.mu.Lock()
	sr := r.report.sinkReportLocked(s)
	sr.Attempts += attempts
	r.mu.Unlock()

	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	// a delivery that went through is recorded even if the run is being stopped
	ledgerCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.WithFields(logrus.Fields{"attempts": attempts, "error": err}).Error("Delivery failed")
		r.mu.Lock()
		sr.Failed++
		r.report.Failures = append(r.report.Failures, Failure{
			Identity: id,
			Sink:     s,
			Slot:     m.Slot,
			Attempts: attempts,
			Reason:   err.Error(),
		})
		r.mu.Unlock()
		return r.cfg.Ledger.RecordDelivery(ledgerCtx, id, s, payload, ledger.Failure(err))
	}

	log.WithField("result", result).Info("Delivered")
	r.mu.Lock()
	sr.Delivered++
	if result == sink.Duplicate {
		sr.Duplicates++
	}
	r.mu.Unlock()
	return r.cfg.Ledger.RecordDelivery(ledgerCtx, id, s, payload, ledger.Success())
}

func (r *run) send(ctx context.Context, u User, m record.Measurement, payload record.Payload, s ledger.Sink) (sink.UploadResult, error) {
	switch s {
	case ledger.Cloud:
		return r.cfg.Uploader.Upload(ctx, u.Account, m)
	case ledger.Broker:
		payload.PublishedAt = r.cfg.Now().Format(time.RFC3339)
		data, err := payload.Marshal()
		if err != nil {
			return 0, &sink.DeliveryError{Sink: string(s), Kind: sink.Permanent, Msg: "encode payload", Err: err}
		}
		if err := r.cfg.Publisher.Publish(ctx, sink.UserTopic(r.cfg.BaseTopic, u.Name), data, sink.ReadingOptions); err != nil {
			return 0, err
		}
		return sink.Delivered, nil
	default:
		return 0, fmt.Errorf("unknown sink %q", s)
	}
}

func (r *run) sinkReport(s ledger.Sink) *SinkReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report.sinkReportLocked(s)
}
