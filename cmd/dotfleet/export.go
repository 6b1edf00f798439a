package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Drain recorded data from every dot",
	Long: `Bring the fleet up and drain every recording waiting on each dot's
flash: samples land as CSV tables under the data directory, jump records in
the database, and the flash is erased afterwards.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger, printStatusChange)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.monitor.Bootstrap(ctx, cfg.AllowList); err != nil {
		return err
	}

	if estimate := a.monitor.EstimateFleetExportSeconds(); estimate > 0 {
		fmt.Printf("Estimated export time: %.1fs\n", estimate)
	}

	var failures int
	for _, s := range a.monitor.Sessions() {
		if err := s.ExportData(ctx, cfg.IncludeResearchFields); err != nil {
			failures++
			logger.WithError(err).WithField("device", s.ID()).Error("Export failed")
			fmt.Printf("%s: export failed: %s\n", s.ID(), FormatUserError(err))
			continue
		}
		fmt.Printf("%s: export complete\n", s.ID())
	}

	if failures > 0 {
		return fmt.Errorf("export failed on %d dot(s)", failures)
	}
	return nil
}
