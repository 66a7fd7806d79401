// Adaptd is the context engineering orchestration daemon.
//
// It serves MCP tools on stdio (orchestration, memory, tracking) and runs an
// HTTP sidecar for health, metrics, and pipeline inspection.
//
// Usage:
//
//	# Start with defaults (~/.config/adaptd/config.yaml if present)
//	adaptd serve
//
//	# Explicit config file
//	adaptd serve --config /etc/adaptd/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "adaptd",
	Short:   "Context engineering orchestration daemon",
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("adaptd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/adaptd/config.yaml)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
