package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old readings from the ledger",
	Long: `Deletes readings measured more than --days days ago, with their delivery
state. A pruned reading still stored on the monitor is treated as new by the
next sync with device.read_mode "all".`,
	RunE: runPrune,
}

var pruneDays int

func init() {
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Keep readings of the last N days")
	_ = pruneCmd.MarkFlagRequired("days")
}

func runPrune(cmd *cobra.Command, _ []string) error {
	if pruneDays < 1 {
		return fmt.Errorf("--days must be at least 1")
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

	cutoff := time.Now().AddDate(0, 0, -pruneDays)
	n, err := l.Prune(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	a.logger.WithField("cutoff", cutoff.Format(time.DateOnly)).Debug("Ledger pruned")
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d readings measured before %s\n", n, cutoff.Format(time.DateOnly))
	return nil
}
