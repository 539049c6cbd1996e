package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/bpbridge/internal/ledger"
	"github.com/srg/bpbridge/internal/record"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the ledger",
	RunE:  runStats,
}

var statsSlot int

func init() {
	statsCmd.Flags().IntVar(&statsSlot, "slot", 0, "Only this user slot (0 for all)")
}

func runStats(cmd *cobra.Command, _ []string) error {
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

	st, err := l.Stats(cmd.Context(), statsSlot)
	if err != nil {
		return err
	}
	return printStats(cmd.OutOrStdout(), st)
}

func printStats(out io.Writer, st ledger.Stats) error {
	fmt.Fprintf(out, "Readings: %d\n", st.Total)
	if st.Total == 0 {
		return nil
	}
	fmt.Fprintf(out, "Range:    %s .. %s\n\n", st.First, st.Last)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SINK\tDELIVERED\tPENDING")
	for _, s := range ledger.Sinks() {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s, st.Delivered[s], st.Pending[s])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "CATEGORY\tREADINGS\t")
	for _, c := range record.Categories() {
		if n := st.Categories[c]; n > 0 {
			fmt.Fprintf(w, "%s\t%d\t\n", c, n)
		}
	}
	return w.Flush()
}
