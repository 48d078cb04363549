// Command rephole-worker runs the ingestion worker's poll loop: it
// dequeues jobs, clones/updates repositories, chunks changed files, and
// writes vectors and parent blobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rephole/rephole/internal/config"
)

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
		Use:   "rephole-worker",
		Short: "Run the rephole ingestion worker",
	}

	cmd.AddCommand(runCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func loadConfig(envFile string) (config.AppConfig, error) {
	if envFile == "" {
		envFile = ".env"
	}
	return config.LoadConfig(envFile)
}
