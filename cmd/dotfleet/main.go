package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dotfleet",
	Short: "Fleet manager for dot motion sensors",
	Long: `Manages a fleet of wearable dot motion sensors:

- Bring the fleet up over USB and Bluetooth and pair both links per sensor
- Watch the charging tray and start/stop recordings as dots come and go
- Drain recorded data over USB, classify jumps, and store the results

Recordings stream off each dot's flash as CSV sample tables; an external
classifier turns them into jump records in the local database.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Add subcommands
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(devicesCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "dotfleet.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
