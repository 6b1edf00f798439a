package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dotfleet/internal/store"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered dots",
	Long:  `List every dot ever registered, straight from the database. No hardware is touched.`,
	RunE:  runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, _, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	devices, err := db.Devices(cmd.Context())
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices registered")
		return nil
	}

	headers := []string{"Tag", "Device ID", "Address"}
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.TagName, d.ID, d.Address})
	}

	fmt.Println(renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft}))
	return nil
}
