// Package radio controls the host's Bluetooth radio power state.
//
// USB discovery and Bluetooth scanning must not run concurrently, so the
// bootstrap toggles the radio off around USB work. The toggle is an external,
// fallible operation and is modeled as an injected capability so it can be
// faked in tests.
package radio

import "fmt"

// Controller switches the host Bluetooth radio on or off.
type Controller interface {
	SetBluetooth(enabled bool) error
}

// ControlError reports a failed radio power toggle. It is fatal to the
// bootstrap attempt that triggered it.
type ControlError struct {
	Enabled bool
	Err     error
}

func (e *ControlError) Error() string {
	op := "disable"
	if e.Enabled {
		op = "enable"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s bluetooth radio", op)
	}
	return fmt.Sprintf("%s bluetooth radio: %v", op, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }
