package bridge

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bpbridge/internal/ledger"
	"github.com/srg/bpbridge/internal/record"
)

// Outcome summarises a run.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeTotalFailure   Outcome = "total_failure"
)

// SinkReport counts what happened on one sink during a run.
type SinkReport struct {
	// Delivered counts new deliveries, Duplicates included
	Delivered  int `json:"delivered"`
	Duplicates int `json:"duplicates"`
	// Known records were already delivered before this run
	Known  int `json:"known"`
	Failed int `json:"failed"`
	// Attempts counts every delivery call, retries included
	Attempts int `json:"attempts"`
	// Pending counts records a dry run would have delivered
	Pending int `json:"pending"`
}

// Failure is a delivery that gave up.
type Failure struct {
	Identity record.Identity `json:"identity"`
	Sink     ledger.Sink     `json:"sink"`
	Slot     int             `json:"slot"`
	Attempts int             `json:"attempts"`
	Reason   string          `json:"reason"`
}

// Report is the result of one sync run. It is not persisted.
type Report struct {
	RunID    ulid.ULID `json:"run_id"`
	Mode     Mode      `json:"mode"`
	DryRun   bool      `json:"dry_run"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Model          string `json:"model,omitempty"`
	Read           int    `json:"read"`
	DecodeFailures int    `json:"decode_failures"`
	// Partial is set when the device link dropped before every slot was read
	Partial bool `json:"partial"`
	// Retried counts earlier failed deliveries picked up from the ledger
	Retried int `json:"retried"`

	Sinks    *orderedmap.OrderedMap[ledger.Sink, *SinkReport] `json:"sinks"`
	Failures []Failure                                        `json:"failures,omitempty"`

	// Err is the error that aborted the run, if any
	Err error `json:"-"`
}

func newReport(mode Mode, dryRun bool, sinks []ledger.Sink, now time.Time) *Report {
	r := &Report{
		RunID:   ulid.Make(),
		Mode:    mode,
		DryRun:  dryRun,
		Started: now,
		Sinks:   orderedmap.New[ledger.Sink, *SinkReport](),
	}
	for _, s := range sinks {
		r.Sinks.Set(s, &SinkReport{})
	}
	return r
}

// Sink returns the counters of s, zero when s was not part of the run.
func (r *Report) Sink(s ledger.Sink) SinkReport {
	if sr, ok := r.Sinks.Get(s); ok {
		return *sr
	}
	return SinkReport{}
}

// Delivered is the number of new deliveries over all sinks.
func (r *Report) Delivered() int {
	n := 0
	for pair := r.Sinks.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Delivered
	}
	return n
}

// Outcome is total_failure when the run aborted or nothing could be
// delivered, partial_failure when some deliveries failed or the device link
// dropped early, success otherwise.
func (r *Report) Outcome() Outcome {
	switch {
	case r.Err != nil:
		return OutcomeTotalFailure
	case len(r.Failures) > 0 && r.Delivered() == 0:
		return OutcomeTotalFailure
	case len(r.Failures) > 0 || r.Partial:
		return OutcomePartialFailure
	default:
		return OutcomeSuccess
	}
}

// Summary is a one-line description for logs and the status topic.
func (r *Report) Summary() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Outcome(), r.Err)
	}
	s := fmt.Sprintf("%s: %d read", r.Outcome(), r.Read)
	for pair := r.Sinks.Oldest(); pair != nil; pair = pair.Next() {
		sr := pair.Value
		if r.DryRun {
			s += fmt.Sprintf(", %s %d pending %d known", pair.Key, sr.Pending, sr.Known)
			continue
		}
		s += fmt.Sprintf(", %s %d delivered %d known %d failed", pair.Key, sr.Delivered, sr.Known, sr.Failed)
	}
	return s
}

func (r *Report) sinkReportLocked(s ledger.Sink) *SinkReport {
	sr, ok := r.Sinks.Get(s)
	if !ok {
		sr = &SinkReport{}
		r.Sinks.Set(s, sr)
	}
	return sr
}
