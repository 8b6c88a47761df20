package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// Version is the version of this command.
var Version = "dev build"

func init() {
	// Convert version string space placeholders.
	Version = strings.ReplaceAll(Version, "§", " ")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build info",
	Run:   version,
}

func version(cmd *cobra.Command, args []string) {
	fmt.Printf("tunstat %s\n", Version)

	// Get build info.
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	buildSettings := make(map[string]string)
	for _, setting := range buildInfo.Settings {
		buildSettings[setting.Key] = setting.Value
	}

	// Print version info.
	fmt.Printf("  Go %s %s %s\n", buildInfo.GoVersion, runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  From %s\n", buildInfo.Path)
	fmt.Printf("  Commit %s @%s dirty=%s\n", buildSettings["vcs.revision"], buildSettings["vcs.time"], buildSettings["vcs.modified"])
}
