package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	rootCmd = &cobra.Command{
		Use:   "tunstat",
		Short: "Measure throughput and integrity of test frames arriving on a tun device",

		SilenceUsage: true,
	}

	configFile = pflag.String("config", "", "set config file")
	logLevel   = pflag.String("log", "", "set log level (debug, info, warn, error)")
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
