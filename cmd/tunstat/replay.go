package main

import (
	"github.com/spf13/cobra"

	"github.com/mycoria/tunstat"
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Uint64Var(&runOpts.endAfter, "end-after", 0, "override sequence index that ends the session")
	replayCmd.Flags().StringVar(&runOpts.record, "record", "", "override record file")
	replayCmd.Flags().StringVar(&runOpts.metrics, "metrics", "", "override metrics listen address")
}

var replayCmd = &cobra.Command{
	Use:   "replay <capture file>",
	Short: "Measure test frames from a pcap or pcapng capture file",
	Args:  cobra.ExactArgs(1),
	RunE:  replayCapture,
}

func replayCapture(cmd *cobra.Command, args []string) error {
	return runSession(tunstat.Options{
		ReplayFile: args[0],
	})
}
