package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	goble "github.com/srg/bpbridge/internal/device/go-ble"
	"github.com/srg/bpbridge/internal/discovery"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find nearby OMRON monitors",
	Long: `Listens for BLE advertisements and lists OMRON monitors with their
addresses. Press the monitor's Bluetooth button first: it only advertises for
a short while afterwards.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
	scanJSON     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every BLE device, not only OMRON monitors")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print as JSON")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanDuration <= 0 {
		return fmt.Errorf("--duration must be positive")
	}
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	scanner, err := goble.NewScanner()
	if err != nil {
		return err
	}

	ctx, cancel := withInterrupt(cmd.Context(), "scan")
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", "Processing results", "Failed")
	progress.Start()
	found, err := discovery.New(scanner, a.logger).Scan(ctx, discovery.Options{Duration: scanDuration, All: scanAll}, progress.Callback())
	progress.Stop()
	if err != nil {
		return err
	}

	if scanJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}
	return printFound(cmd.OutOrStdout(), found)
}

func printFound(out io.Writer, found []discovery.Found) error {
	if len(found) == 0 {
		fmt.Fprintln(out, "No devices found. Press the Bluetooth button on the monitor and scan again.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tOMRON")
	for _, f := range found {
		name := f.Name
		if name == "" {
			name = "(unknown)"
		}
		omron := ""
		if f.Omron {
			omron = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", f.Address, name, f.RSSI, omron)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nSet device.address in the configuration, then run 'bpbridge pair'.")
	return nil
}
