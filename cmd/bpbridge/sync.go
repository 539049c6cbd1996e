package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bpbridge/internal/bridge"
	"github.com/srg/bpbridge/internal/sink"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Read the monitor once and deliver new readings",
	Long: `Connects to the monitor, reads the configured user slots and delivers
every reading the ledger has not seen delivered to the cloud and the MQTT
broker. Earlier failed deliveries are retried first.

Exit status is 0 when every delivery succeeded and 1 otherwise.`,
	Example: `  # Read and deliver to every enabled sink
  bpbridge sync

  # Only publish to MQTT, without touching the ledger or the device counters
  bpbridge sync --broker-only --dry-run`,
	RunE: runSync,
}

var (
	syncCloudOnly  bool
	syncBrokerOnly bool
	syncDryRun     bool
	syncJSON       bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncCloudOnly, "cloud-only", false, "Deliver to the cloud only")
	syncCmd.Flags().BoolVar(&syncBrokerOnly, "broker-only", false, "Deliver to the MQTT broker only")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Read and report without delivering or changing anything")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the run report as JSON")
	syncCmd.MarkFlagsMutuallyExclusive("cloud-only", "broker-only")
}

func syncMode(cloudOnly, brokerOnly bool) bridge.Mode {
	switch {
	case cloudOnly:
		return bridge.ModeCloudOnly
	case brokerOnly:
		return bridge.ModeBrokerOnly
	default:
		return bridge.ModeFull
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
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

	progress := NewProgressPrinter(os.Stderr, "Syncing", "Starting", "Done", "Failed")
	b, err := a.buildBridge(l, pub, progress.Callback())
	if err != nil {
		return err
	}

	// Arguments are valid from here on
	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context(), "sync")
	defer cancel()

	progress.Start()
	report, syncErr := b.Sync(ctx, bridge.Options{
		Mode:   syncMode(syncCloudOnly, syncBrokerOnly),
		DryRun: syncDryRun,
	})
	progress.Stop()

	if pub != nil {
		if !syncDryRun && ctx.Err() == nil {
			announce(ctx, pub, report, syncErr)
		}
		pub.Disconnect()
	}

	if report != nil {
		out := cmd.OutOrStdout()
		if syncJSON {
			if err := printReportJSON(out, report); err != nil {
				return err
			}
		} else if syncErr == nil || report.Read > 0 {
			printReport(out, report)
		}
	}

	if syncErr != nil {
		return syncErr
	}
	if report.Outcome() != bridge.OutcomeSuccess {
		return fmt.Errorf("%w: %s", ErrSyncIncomplete, report.Summary())
	}
	return nil
}

// announce publishes the run result on the status topic.
func announce(ctx context.Context, pub *sink.MQTTPublisher, report *bridge.Report, syncErr error) {
	status, msg := sink.StatusSynced, ""
	switch {
	case syncErr != nil:
		status, msg = sink.StatusError, syncErr.Error()
	case report.Outcome() != bridge.OutcomeSuccess:
		status, msg = sink.StatusError, report.Summary()
	default:
		msg = report.Summary()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// best effort; the broker may be what failed
	_ = pub.PublishStatus(ctx, status, msg)
}

func outcomeColor(o bridge.Outcome) *color.Color {
	switch o {
	case bridge.OutcomeSuccess:
		return color.New(color.FgGreen, color.Bold)
	case bridge.OutcomePartialFailure:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// printReport writes a human readable run report.
func printReport(out io.Writer, r *bridge.Report) {
	outcome := outcomeColor(r.Outcome()).Sprint(r.Outcome())
	if r.DryRun {
		outcome += " (dry run)"
	}
	fmt.Fprintf(out, "Run %s: %s\n", r.RunID, outcome)
	if r.Model != "" {
		fmt.Fprintf(out, "Device: %s\n", r.Model)
	}
	fmt.Fprintf(out, "Read: %d records", r.Read)
	if r.DecodeFailures > 0 {
		fmt.Fprintf(out, ", %d undecodable", r.DecodeFailures)
	}
	if r.Retried > 0 {
		fmt.Fprintf(out, ", %d earlier failures retried", r.Retried)
	}
	if r.Partial {
		fmt.Fprint(out, " (link lost, some slots unread)")
	}
	fmt.Fprintf(out, "\nDuration: %s\n\n", r.Finished.Sub(r.Started).Truncate(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if r.DryRun {
		fmt.Fprintln(w, "SINK\tPENDING\tKNOWN")
	} else {
		fmt.Fprintln(w, "SINK\tDELIVERED\tDUPLICATE\tKNOWN\tFAILED\tATTEMPTS")
	}
	for pair := r.Sinks.Oldest(); pair != nil; pair = pair.Next() {
		sr := pair.Value
		if r.DryRun {
			fmt.Fprintf(w, "%s\t%d\t%d\n", pair.Key, sr.Pending, sr.Known)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", pair.Key, sr.Delivered, sr.Duplicates, sr.Known, sr.Failed, sr.Attempts)
	}
	_ = w.Flush()

	if len(r.Failures) == 0 {
		return
	}
	fmt.Fprintln(out)
	red := color.New(color.FgRed)
	for _, f := range r.Failures {
		fmt.Fprintf(out, "%s %s slot %d (%d attempts): %s\n", red.Sprint("FAILED"), f.Sink, f.Slot, f.Attempts, f.Reason)
		fmt.Fprintf(out, "       %s\n", f.Identity)
	}
}

type reportJSON struct {
	*bridge.Report
	Outcome bridge.Outcome `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

func printReportJSON(out io.Writer, r *bridge.Report) error {
	v := reportJSON{Report: r, Outcome: r.Outcome()}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
