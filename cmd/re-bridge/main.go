// Package main provides the re-bridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is the application version, set at build time.
	Version = "v1.0.0"
	// BuildTime is the build timestamp, set at build time.
	BuildTime = "unknown"
	// GitCommit is the git commit hash, set at build time.
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ignoring error: writing to stderr in error path.
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "re-bridge",
		Short: "re-bridge - resilient client for Binary Ninja analysis backends",
		Long: `re-bridge talks to Binary Ninja backends directly or through a shared
MCP bridge, correlating asynchronous replies from the bridge event stream and
falling back to static data when nothing is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolP("quiet", "q", false, "Suppress all logging output")
	flags.StringP("output", "o", formatTable, "Output format (table, json, yaml)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(
		serversCmd(),
		functionsCmd(),
		decompileCmd(),
		offsetsCmd(),
		compareCmd(),
		eventsCmd(),
		versionCmd(),
	)

	return rootCmd
}

// versionCmd creates the version command.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "re-bridge\n")
			_, _ = fmt.Fprintf(out, "Version: %s\n", Version)
			_, _ = fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
			_, _ = fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}
}
