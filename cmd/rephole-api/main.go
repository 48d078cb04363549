// Command rephole-api runs the HTTP API server: ingestion enqueue, job
// status, and query endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rephole/rephole/internal/config"
)

// version, commit, and date are set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rephole-api",
		Short: "Run the rephole HTTP API server",
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func loadConfig(envFile string) (config.AppConfig, error) {
	if envFile == "" {
		envFile = ".env"
	}
	return config.LoadConfig(envFile)
}
