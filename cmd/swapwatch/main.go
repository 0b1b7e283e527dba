// Command swapwatch tracks the running volume of round-sized aggregator
// swaps touching one asset.
//
//	swapwatch <asset-mint> [flags]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"swapwatch/internal/config"
)

var version = "dev"

// usageError marks errors that should be followed by the usage text.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exactlyOneAsset(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swapwatch <asset-mint>",
		Short: "Track round-sized aggregator swap volume for a Solana asset",
		Long: `swapwatch subscribes to transaction logs mentioning the asset mint, keeps
transactions that route through the aggregator program, fetches each one once
under rate limits and adds round-sized amounts to a running total.`,
		Args:          exactlyOneAsset,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			cfg.Asset = args[0]
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	return cmd
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr)
			fmt.Fprint(os.Stderr, cmd.UsageString())
		}
		os.Exit(1)
	}
}
