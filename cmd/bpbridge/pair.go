package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bpbridge/internal/protocol"
	"github.com/srg/bpbridge/internal/session"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Program the pairing key into the monitor",
	Long: `Programs the pairing key into a monitor in pairing mode.

Hold the monitor's Bluetooth button until it shows a blinking "P", then run
this command. The key is device.pairing_key, or the built-in key when unset.
Store the same key in the configuration for later syncs.`,
	RunE: runPair,
}

var (
	pairKey    string
	pairSettle time.Duration
)

func init() {
	pairCmd.Flags().StringVar(&pairKey, "key", "", "Pairing key, 32 hex digits; overrides device.pairing_key")
	pairCmd.Flags().DurationVar(&pairSettle, "settle", 10*time.Second, "Wait after connecting before entering pairing mode")
}

func runPair(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if a.cfg.Device.Address == "" {
		return fmt.Errorf("device.address is required to pair")
	}

	key := protocol.DefaultPairingKey
	switch {
	case pairKey != "":
		if key, err = protocol.ParseKey(pairKey); err != nil {
			return fmt.Errorf("invalid --key: %w", err)
		}
	case a.cfg.Device.PairingKey != "":
		if key, err = a.cfg.PairingKey(); err != nil {
			return err
		}
	}

	source, err := a.newDeviceSource()
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context(), "pairing")
	defer cancel()

	s, err := session.New(source.Transport, source.Layout, source.Options, a.logger)
	if err != nil {
		return err
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Pairing", "Connecting")
	progress.Start()
	err = s.Pair(ctx, key, pairSettle)
	progress.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Paired with %s. The monitor should show \"OK\".\n", a.cfg.Device.Address)
	if pairKey != "" && pairKey != a.cfg.Device.PairingKey {
		fmt.Fprintf(cmd.OutOrStdout(), "Set device.pairing_key: %q in the configuration.\n", pairKey)
	}
	return nil
}
