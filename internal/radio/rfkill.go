package radio

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Rfkill toggles the Bluetooth radio through the rfkill utility.
type Rfkill struct {
	logger *logrus.Logger

	// runner is swapped in tests.
	runner func(args ...string) error
}

// NewRfkill creates an rfkill-backed controller.
func NewRfkill(logger *logrus.Logger) *Rfkill {
	if logger == nil {
		logger = logrus.New()
	}
	return &Rfkill{
		logger: logger,
		runner: runRfkill,
	}
}

func runRfkill(args ...string) error {
	out, err := exec.Command("rfkill", args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("rfkill %s: %v: %s", strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("rfkill %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// SetBluetooth blocks or unblocks the Bluetooth radio. Failures convert to
// *ControlError.
func (r *Rfkill) SetBluetooth(enabled bool) error {
	verb := "block"
	if enabled {
		verb = "unblock"
	}

	if err := r.runner(verb, "bluetooth"); err != nil {
		r.logger.WithError(err).WithField("enabled", enabled).Error("Radio toggle failed")
		cerr, ok := err.(*ControlError)
		if !ok {
			cerr = &ControlError{Enabled: enabled, Err: err}
		}
		return cerr
	}

	r.logger.WithField("enabled", enabled).Info("Bluetooth radio toggled")
	return nil
}
