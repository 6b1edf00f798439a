// Package session reconciles one dot's two physical links into a single
// logical device and exposes the unified operations on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"dotfleet/internal/classify"
	"dotfleet/internal/export"
	"dotfleet/internal/store"
	"dotfleet/internal/transport"
)

// exportBytesPerSecond is the empirically calibrated USB export throughput
// used for progress estimates. Never used for correctness.
const exportBytesPerSecond = 237568 * 8

// UsbError reports exhausting the local retry budget on a USB operation.
type UsbError struct {
	Op  string
	Err error
}

func (e *UsbError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("usb communication error: %s", e.Op)
	}
	return fmt.Sprintf("usb communication error: %s: %v", e.Op, e.Err)
}

func (e *UsbError) Unwrap() error { return e.Err }

// Options tunes the session's retry behavior. The defaults match the
// hardware's observed recovery times.
type Options struct {
	OpenRetries  int
	RetryBackoff time.Duration
}

// DefaultOptions returns the standard retry configuration.
func DefaultOptions() *Options {
	return &Options{
		OpenRetries:  5,
		RetryBackoff: time.Second,
	}
}

// DeviceSession is the reconciled logical device: one Bluetooth handle
// (required) and one USB handle, both believed to refer to the same physical
// sensor. The USB link is attached and detached repeatedly as the dock is
// plugged and unplugged; the Bluetooth link lives for the whole run.
//
// A session is created once during bootstrap and destroyed only when the
// fleet monitor is torn down. All mutating methods are called from the
// goroutine that owns the session (the polling loop, or an export goroutine
// handed ownership for the duration of the export).
type DeviceSession struct {
	bt  transport.BluetoothHandle
	usb transport.USBHandle

	store      store.Store
	classifier classify.Classifier
	dataDir    string
	opts       *Options
	logger     *logrus.Logger

	plugged      bool
	pendingCount int
	timingRecord time.Time
	syncOffset   uint64
}

// New constructs a session over a matched pair of handles. The USB link is
// opened and any in-progress recording is stopped: a session must begin its
// life idle.
func New(bt transport.BluetoothHandle, usb transport.USBHandle, st store.Store, classifier classify.Classifier, dataDir string, opts *Options, logger *logrus.Logger) (*DeviceSession, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &DeviceSession{
		bt:         bt,
		usb:        usb,
		store:      st,
		classifier: classifier,
		dataDir:    dataDir,
		opts:       opts,
		logger:     logger,
	}

	if err := s.OpenUSB(); err != nil {
		return nil, err
	}
	s.StopRecording()
	s.refreshPendingCount()
	s.timingRecord = time.Now()

	logger.WithFields(logrus.Fields{
		"device":  s.ID(),
		"tag":     s.TagName(),
		"pending": s.pendingCount,
	}).Info("Session initialized")

	return s, nil
}

// ID is the stable hardware identifier. The Bluetooth handle's identity is
// preferred: the USB link may be transiently unplugged.
func (s *DeviceSession) ID() string {
	return s.bt.DeviceID()
}

// TagName is the sensor's human-readable tag.
func (s *DeviceSession) TagName() string { return s.bt.TagName() }

// BatteryLevel reports the last known battery percentage.
func (s *DeviceSession) BatteryLevel() int { return s.bt.BatteryLevel() }

// IsCharging reports whether the dot sits on a powered dock. Charging is the
// plugged-in proxy used by the polling loop: the dock both charges the sensor
// and exposes its USB port.
func (s *DeviceSession) IsCharging() bool { return s.bt.BatteryCharging() }

// IsPlugged reports whether the USB link is currently open.
func (s *DeviceSession) IsPlugged() bool { return s.plugged }

// IsRecording queries the Bluetooth handle's device state. The Bluetooth
// state is the single authoritative recording signal; it is never inferred
// from the USB recording count.
func (s *DeviceSession) IsRecording() bool {
	return s.bt.State() == transport.StateRecording
}

// PendingCount is the number of recordings awaiting export.
func (s *DeviceSession) PendingCount() int { return s.pendingCount }

// LastRecordingStart is the wall-clock time recording was last started.
func (s *DeviceSession) LastRecordingStart() time.Time { return s.timingRecord }

// Equal reports whether two sessions refer to the same physical sensor:
// both underlying handle identities must match.
func (s *DeviceSession) Equal(other *DeviceSession) bool {
	if other == nil {
		return false
	}
	return s.bt.DeviceID() == other.bt.DeviceID() &&
		s.usb.DeviceID() == other.usb.DeviceID()
}

// PumpEvents drains queued hardware events from the Bluetooth link. Button
// taps update the cross-recording synchronization mark; battery reports are
// already folded into the handle's state by the transport layer.
func (s *DeviceSession) PumpEvents() {
	for {
		select {
		case ev, ok := <-s.bt.Events():
			if !ok {
				return
			}
			if ev.Kind == transport.EventButtonPressed {
				s.syncOffset = ev.ButtonTimestamp
				s.logger.WithFields(logrus.Fields{
					"device":    s.ID(),
					"timestamp": ev.ButtonTimestamp,
				}).Info("Synchronization button pressed")
			}
		default:
			return
		}
	}
}

// OpenUSB (re)opens the USB link with a bounded retry loop. On success, an
// in-progress recording is stopped: a freshly plugged session must not stay
// recording, since plugging signals intent to stop.
func (s *DeviceSession) OpenUSB() error {
	if s.plugged {
		return nil
	}

	var lastErr error
	opened := false
	for attempt := 0; attempt < s.opts.OpenRetries; attempt++ {
		// Close first: a half-open port from a previous unplug would make
		// Connect fail forever.
		_ = s.usb.Disconnect()

		if err := s.usb.Connect(); err != nil {
			lastErr = err
			s.logger.WithError(err).WithField("device", s.ID()).Warn("USB open failed, retrying")
			time.Sleep(s.opts.RetryBackoff)
			continue
		}
		opened = true
		break
	}
	if !opened {
		s.logger.WithField("device", s.ID()).Error("USB open failed after retries")
		return &UsbError{Op: "open", Err: lastErr}
	}

	s.plugged = true
	s.logger.WithField("device", s.ID()).Info("USB link opened")

	if s.IsRecording() {
		if s.StopRecording() {
			s.logger.WithField("device", s.ID()).Info("Stopped in-progress recording on plug")
		}
	}
	return nil
}

// CloseUSB closes the USB link. Idempotent.
func (s *DeviceSession) CloseUSB() {
	if !s.plugged {
		return
	}
	_ = s.usb.Disconnect()
	s.plugged = false
	s.logger.WithField("device", s.ID()).Info("USB link closed")
}

// StartRecording commands the dot to begin recording. When the hardware is
// already in the recording state no redundant command is issued and the call
// reports success. Hardware refusal returns false: it is a routine,
// UI-visible, retryable condition, not a communication fault.
func (s *DeviceSession) StartRecording() bool {
	if s.bt.State() != transport.StateRecording {
		if !s.bt.StartRecording() {
			s.logger.WithField("device", s.ID()).Error("Dot refused to start recording")
			return false
		}
	}

	s.timingRecord = time.Now()
	s.logger.WithFields(logrus.Fields{
		"device": s.ID(),
		"start":  s.timingRecord,
	}).Info("Recording started")
	return true
}

// StopRecording commands the dot to stop recording. On success the pending
// count is refreshed from the USB link.
func (s *DeviceSession) StopRecording() bool {
	state := s.bt.State()
	if state == transport.StateIdle || state == transport.StateRecording {
		if !s.bt.StopRecording() {
			s.logger.WithField("device", s.ID()).Error("Dot refused to stop recording")
			return false
		}
	}

	s.refreshPendingCount()
	s.logger.WithFields(logrus.Fields{
		"device":  s.ID(),
		"pending": s.pendingCount,
	}).Info("Recording stopped")
	return true
}

// refreshPendingCount re-reads the stored recording count. The firmware
// reports -1 while a recording is open; that sentinel is never taken as a
// count.
func (s *DeviceSession) refreshPendingCount() {
	if !s.plugged {
		return
	}
	if c := s.usb.RecordingCount(); c >= 0 {
		s.pendingCount = c
	}
}

// ExportData drains every stored recording through the export pipeline,
// blocking until complete. Partial success is acceptable: recordings already
// persisted stay persisted even if a later step fails. The caller must not
// invoke ExportData concurrently for the same session.
func (s *DeviceSession) ExportData(ctx context.Context, includeResearchFields bool) error {
	s.PumpEvents()

	p := export.New(export.Config{
		DeviceID:              s.ID(),
		USB:                   s.usb,
		Store:                 s.store,
		Classifier:            s.classifier,
		DataDir:               s.dataDir,
		IncludeResearchFields: includeResearchFields,
		SyncOffset:            s.syncOffset,
		EraseRetries:          s.opts.OpenRetries,
		RetryBackoff:          s.opts.RetryBackoff,
	}, s.logger)

	result, err := p.Run(ctx)
	// The pipeline reports how far it got even on failure.
	s.syncOffset = result.SyncOffset
	if err != nil {
		if result.Drained > 0 {
			s.pendingCount -= result.Drained
			if s.pendingCount < 0 {
				s.pendingCount = 0
			}
		}
		if errors.Is(err, export.ErrEraseFailed) {
			return &UsbError{Op: "erase flash", Err: err}
		}
		return err
	}

	s.pendingCount = 0
	s.logger.WithField("device", s.ID()).Info("Export complete, dot may be disconnected")
	return nil
}

// EstimatedExportSeconds estimates how long ExportData will take: a fixed
// second of overhead plus each recording's storage size over the calibrated
// transport throughput, rounded to a tenth.
func (s *DeviceSession) EstimatedExportSeconds() (float64, error) {
	total := 1.0
	count := s.usb.RecordingCount()
	for index := 1; index <= count; index++ {
		info, err := s.usb.RecordingInfo(index)
		if err != nil {
			return 0, fmt.Errorf("recording %d info: %w", index, err)
		}
		total += math.Round(float64(info.StorageSize)/exportBytesPerSecond*10) / 10
	}
	return total, nil
}
