package main

import (
	"errors"
	"fmt"
	"strings"

	"dotfleet/internal/fleet"
	"dotfleet/internal/radio"
	"dotfleet/internal/session"
)

// FormatUserError turns internal errors into actionable one-line messages.
func FormatUserError(err error) string {
	var missing *fleet.MissingSensorsError
	if errors.As(err, &missing) {
		return fmt.Sprintf("no USB link for sensor(s) %s: place them on the charging tray and retry",
			strings.Join(missing.Names, ", "))
	}

	var radioErr *radio.ControlError
	if errors.As(err, &radioErr) {
		return fmt.Sprintf("could not toggle the Bluetooth radio (is rfkill available?): %v", radioErr.Err)
	}

	var usbErr *session.UsbError
	if errors.As(err, &usbErr) {
		return fmt.Sprintf("USB communication failed (%s): reseat the dot on the tray and retry", usbErr.Op)
	}

	var hwErr *fleet.HardwareError
	if errors.As(err, &hwErr) {
		return fmt.Sprintf("hardware failure during %s: %v", hwErr.Op, hwErr.Err)
	}

	return err.Error()
}
