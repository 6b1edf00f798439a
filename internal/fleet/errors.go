package fleet

import (
	"fmt"
	"strings"
)

// HardwareError is a generic USB/Bluetooth communication failure after local
// retries were exhausted. Fatal to the operation that raised it, not to the
// process; it propagates to the caller, which owns the retry-or-abort
// decision.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("hardware communication error: %s", e.Op)
	}
	return fmt.Sprintf("hardware communication error: %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// MissingSensorsError reports dots that advertised over Bluetooth but had no
// USB counterpart on the dock. Recoverable: the caller retries the whole
// bootstrap after the user physically reconnects the listed sensors.
type MissingSensorsError struct {
	// Names are the tag names of the missing sensors.
	Names []string
}

func (e *MissingSensorsError) Error() string {
	return "missing sensors: " + strings.Join(e.Names, ", ")
}
