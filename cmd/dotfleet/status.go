package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every connected dot",
	Long: `Bring the fleet up and print one row per dot: tag name, device ID,
battery level, whether it sits on the charging tray, whether it is
recording, and how many recordings wait on its flash.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	a, err := newApp(cmd.Context(), cfg, logger, printStatusChange)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.monitor.Bootstrap(cmd.Context(), cfg.AllowList); err != nil {
		return err
	}

	headers := []string{"Tag", "Device ID", "Battery", "Charging", "Recording", "Pending"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight}

	var rows [][]string
	for _, s := range a.monitor.Sessions() {
		s.PumpEvents()
		rows = append(rows, []string{
			s.TagName(),
			s.ID(),
			fmt.Sprintf("%d%%", s.BatteryLevel()),
			yesNo(s.IsCharging()),
			yesNo(s.IsRecording()),
			strconv.Itoa(s.PendingCount()),
		})
	}

	fmt.Println(renderTable(headers, rows, aligns))
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
