package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/mycoria/tunstat/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(generateCmd)
	configCmd.AddCommand(checkCmd)
}

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Print the default config",
		Args:  cobra.NoArgs,
		RunE:  generate,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Check the config file given with --config",
		Args:  cobra.NoArgs,
		RunE:  check,
	}
)

func generate(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(config.DefaultStore())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Println(string(data)) // CLI output.
	return nil
}

func check(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("config is valid: %d counters, session ends at %d\n", len(c.Counters), c.Session.EndAfter) // CLI output.
	return nil
}
