package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bpbridge/internal/ledger"
	"github.com/srg/bpbridge/internal/record"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List readings recorded in the ledger",
	Long: `Lists readings from the ledger, newest first, with their delivery state
per sink. The device is not contacted.`,
	RunE: runHistory,
}

var (
	historySlot  int
	historyLimit int
	historyJSON  bool
)

func init() {
	historyCmd.Flags().IntVar(&historySlot, "slot", 0, "Only readings of this user slot (0 for all)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of readings (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historySlot < 0 {
		return fmt.Errorf("--slot must not be negative")
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	l, err := a.openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	cmd.SilenceUsage = true

	entries, err := l.History(cmd.Context(), ledger.HistoryFilter{Slot: historySlot, Limit: historyLimit})
	if err != nil {
		return err
	}
	if historyJSON {
		return printHistoryJSON(cmd.OutOrStdout(), entries)
	}
	return printHistory(cmd.OutOrStdout(), entries)
}

func deliveryState(st ledger.SinkState, ok bool) string {
	switch {
	case !ok:
		return "-"
	case st.Delivered:
		return color.GreenString("delivered")
	default:
		return color.RedString("failed")
	}
}

func printHistory(out io.Writer, entries []ledger.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No readings recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAKEN\tSLOT\tSYS/DIA\tPULSE\tCATEGORY\tFLAGS\tCLOUD\tBROKER")
	for _, e := range entries {
		p := e.Payload
		flags := ""
		if p.IrregularHeartbeat {
			flags += "IHB "
		}
		if p.BodyMovement {
			flags += "MOV"
		}
		if flags == "" {
			flags = "-"
		}
		cloud, okCloud := e.Sinks[ledger.Cloud]
		broker, okBroker := e.Sinks[ledger.Broker]
		fmt.Fprintf(w, "%s\t%d\t%d/%d\t%d\t%s\t%s\t%s\t%s\n",
			p.Timestamp, p.UserSlot, p.Systolic, p.Diastolic, p.Pulse, p.Category, flags,
			deliveryState(cloud, okCloud), deliveryState(broker, okBroker))
	}
	return w.Flush()
}

type historySinkJSON struct {
	Delivered   bool   `json:"delivered"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	LastAttempt string `json:"last_attempt,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type historyEntryJSON struct {
	Identity  record.Identity                 `json:"identity"`
	Reading   record.Payload                  `json:"reading"`
	FirstSeen string                          `json:"first_seen"`
	Sinks     map[ledger.Sink]historySinkJSON `json:"sinks"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func printHistoryJSON(out io.Writer, entries []ledger.Entry) error {
	list := make([]historyEntryJSON, 0, len(entries))
	for _, e := range entries {
		v := historyEntryJSON{
			Identity:  e.Identity,
			Reading:   e.Payload,
			FirstSeen: formatTime(e.FirstSeen),
			Sinks:     map[ledger.Sink]historySinkJSON{},
		}
		for s, st := range e.Sinks {
			v.Sinks[s] = historySinkJSON{
				Delivered:   st.Delivered,
				DeliveredAt: formatTime(st.DeliveredAt),
				LastAttempt: formatTime(st.LastAttempt),
				LastError:   st.LastError,
			}
		}
		list = append(list, v)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
