// Package discovery enumerates dot sensors reachable over USB and, separately,
// over Bluetooth. The two transports share spectrum and driver state, so the
// caller (the fleet bootstrap) is responsible for toggling the radio between
// the USB and Bluetooth phases.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"dotfleet/internal/transport"
)

// ScanEvent is one report from the asynchronous advertisement discovery:
// either a found dot or a hard discovery error. Any hard error aborts the
// scan early.
type ScanEvent struct {
	Handle transport.BluetoothHandle
	Err    error
}

// USBProvider enumerates dots currently reachable over USB.
type USBProvider interface {
	DetectUSB() ([]transport.USBHandle, error)
}

// BluetoothProvider runs an advertisement scan, delivering events until ctx
// expires or is cancelled.
type BluetoothProvider interface {
	Scan(ctx context.Context, onEvent func(ScanEvent)) error
}

// Options configures discovery behavior.
type Options struct {
	// ScanDuration bounds the Bluetooth advertisement scan.
	ScanDuration time.Duration

	// ConnectRetryDelay is the pause between USB connect attempts.
	ConnectRetryDelay time.Duration
}

// DefaultOptions returns the default discovery configuration.
func DefaultOptions() *Options {
	return &Options{
		ScanDuration:      10 * time.Second,
		ConnectRetryDelay: 100 * time.Millisecond,
	}
}

// Scanner discovers dot transports. Before reconciliation into sessions the
// returned handles are owned transiently by the caller.
type Scanner struct {
	usb    USBProvider
	bt     BluetoothProvider
	opts   *Options
	logger *logrus.Logger
}

// NewScanner creates a scanner over the given transport providers.
func NewScanner(usb USBProvider, bt BluetoothProvider, opts *Options, logger *logrus.Logger) *Scanner {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{usb: usb, bt: bt, opts: opts, logger: logger}
}

// DetectUSB enumerates every dot reachable over USB.
func (s *Scanner) DetectUSB() ([]transport.USBHandle, error) {
	handles, err := s.usb.DetectUSB()
	if err != nil {
		return nil, fmt.Errorf("detect usb dots: %w", err)
	}
	s.logger.WithField("count", len(handles)).Info("Detected USB dots")
	return handles, nil
}

// ConnectUSB connects every detected handle, retrying each until it reports a
// live connection. Idempotent: already-connected handles are left alone. The
// result is keyed by device ID and preserves detection order.
func (s *Scanner) ConnectUSB(ctx context.Context, handles []transport.USBHandle) (*orderedmap.OrderedMap[string, transport.USBHandle], error) {
	connected := orderedmap.New[string, transport.USBHandle]()

	for _, h := range handles {
		for !h.Alive() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := h.Connect(); err != nil {
				s.logger.WithError(err).WithField("device", h.DeviceID()).Warn("USB connect failed, retrying")
				time.Sleep(s.opts.ConnectRetryDelay)
			}
		}
		connected.Set(h.DeviceID(), h)
		s.logger.WithField("device", h.DeviceID()).Info("USB dot connected")
	}

	return connected, nil
}

// ScanBluetooth collects advertising dots for the configured duration,
// restricted to allowList when it is non-empty. A hard discovery error aborts
// the scan early and is returned.
func (s *Scanner) ScanBluetooth(ctx context.Context, allowList []string) ([]transport.BluetoothHandle, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.opts.ScanDuration)
	defer cancel()

	allowed := make(map[string]struct{}, len(allowList))
	for _, addr := range allowList {
		allowed[addr] = struct{}{}
	}

	seen := make(map[string]struct{})
	var found []transport.BluetoothHandle
	var scanErr error

	s.logger.WithField("duration", s.opts.ScanDuration).Info("Scanning for Bluetooth dots")

	err := s.bt.Scan(scanCtx, func(ev ScanEvent) {
		if ev.Err != nil {
			if scanErr == nil {
				scanErr = ev.Err
			}
			cancel()
			return
		}

		addr := ev.Handle.Address()
		if len(allowed) > 0 {
			if _, ok := allowed[addr]; !ok {
				s.logger.WithField("address", addr).Debug("Ignoring dot outside allow list")
				return
			}
		}
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		found = append(found, ev.Handle)

		s.logger.WithFields(logrus.Fields{
			"address": addr,
			"total":   len(found),
		}).Info("Discovered dot")
	})

	if scanErr != nil {
		return nil, fmt.Errorf("bluetooth scan aborted: %w", scanErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("bluetooth scan: %w", err)
	}

	s.logger.WithField("count", len(found)).Info("Bluetooth scan completed")
	return found, nil
}
