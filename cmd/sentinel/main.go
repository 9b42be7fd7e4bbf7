// Command sentinel is the matrixwatcher process: it wires C1-C9, the
// sample-source implementations, and the §6 external interfaces into a
// single binary, grounded on cuemby-warren's cmd/warren cobra layout
// (persistent flags parsed via cobra.OnInitialize, one file per
// subcommand).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/amois3/matrixwatcher/internal/telemetry/logging"
)

var (
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string

	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Matrix Watcher: online anomaly detection over heterogeneous signals",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the root YAML configuration")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "base directory for JSONL store, calibration logs, and pattern state")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")

	cobra.OnInitialize(func() {
		logger = logging.NewHandler(logLevel, logFormat)
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(calibrateReportCmd)
	rootCmd.AddCommand(healthCmd)
}
