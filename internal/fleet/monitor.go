// Package fleet owns the set of device sessions: it runs the bootstrap state
// machine that reconciles USB and Bluetooth handles into sessions, then the
// steady-state polling loop that tracks dock plug/unplug transitions.
package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"dotfleet/internal/classify"
	"dotfleet/internal/discovery"
	"dotfleet/internal/groutine"
	"dotfleet/internal/radio"
	"dotfleet/internal/session"
	"dotfleet/internal/store"
	"dotfleet/internal/transport"
)

const (
	btConnectRetries = 5
	btConnectDelay   = 100 * time.Millisecond
)

// Callback receives a session whose plug state just changed.
type Callback func(*session.DeviceSession)

// Config wires a Monitor.
type Config struct {
	Scanner    *discovery.Scanner
	Radio      radio.Controller
	Store      store.Store
	Classifier classify.Classifier

	// DataDir is handed to each session's export pipeline.
	DataDir string

	PollInterval   time.Duration
	SessionOptions *session.Options

	// OnStatusChange, when set, is invoked synchronously on entry to each
	// bootstrap state.
	OnStatusChange func(Status)
}

// Monitor is the fleet's single lifecycle owner.
//
// The session slice and the "previously plugged" snapshot are written only by
// the bootstrap and polling goroutines respectively; readers get value
// copies, so no lock is needed.
type Monitor struct {
	cfg    Config
	logger *logrus.Logger

	status   atomic.Int32
	sessions atomic.Pointer[[]*session.DeviceSession]

	// registry indexes sessions by device ID for concurrent lookups from
	// the caller's goroutine.
	registry *hashmap.Map[string, *session.DeviceSession]

	// prevPlugged is the charging set at the previous poll tick. Owned by
	// the polling goroutine once monitoring starts.
	prevPlugged map[string]struct{}

	monitorOnce sync.Once
}

// NewMonitor creates a fleet monitor in the disconnected state.
func NewMonitor(cfg Config, logger *logrus.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		registry: hashmap.New[string, *session.DeviceSession](),
	}
	empty := make([]*session.DeviceSession, 0)
	m.sessions.Store(&empty)
	return m
}

// Status returns the current fleet state.
func (m *Monitor) Status() Status {
	return Status(m.status.Load())
}

func (m *Monitor) setStatus(s Status) {
	m.status.Store(int32(s))
	m.logger.WithField("status", s.String()).Info("Fleet status changed")
	if m.cfg.OnStatusChange != nil {
		m.cfg.OnStatusChange(s)
	}
}

// Sessions returns a snapshot copy of the current session set.
func (m *Monitor) Sessions() []*session.DeviceSession {
	current := *m.sessions.Load()
	out := make([]*session.DeviceSession, len(current))
	copy(out, current)
	return out
}

// SessionByID looks up a session by its stable device ID.
func (m *Monitor) SessionByID(id string) (*session.DeviceSession, bool) {
	return m.registry.Get(id)
}

// Bootstrap runs the connection state machine: USB discovery with the radio
// off, a Bluetooth scan, identity reconciliation, and session construction.
//
// Safe to retry after a *MissingSensorsError; every retry restarts from the
// beginning. Any other error is fatal to this attempt.
func (m *Monitor) Bootstrap(ctx context.Context, allowList []string) error {
	empty := make([]*session.DeviceSession, 0)
	m.sessions.Store(&empty)
	m.registry.Range(func(id string, _ *session.DeviceSession) bool {
		m.registry.Del(id)
		return true
	})

	// Phase 1: USB, with the Bluetooth radio off. The two transports share
	// spectrum and driver state and must not run concurrently.
	m.setStatus(StatusConnectingUSB)
	if err := m.cfg.Radio.SetBluetooth(false); err != nil {
		m.setStatus(StatusDisconnected)
		return err
	}

	detected, err := m.cfg.Scanner.DetectUSB()
	if err != nil {
		m.setStatus(StatusDisconnected)
		return &HardwareError{Op: "detect usb dots", Err: err}
	}
	usbByID, err := m.cfg.Scanner.ConnectUSB(ctx, detected)
	if err != nil {
		m.setStatus(StatusDisconnected)
		return &HardwareError{Op: "connect usb dots", Err: err}
	}

	if err := m.cfg.Radio.SetBluetooth(true); err != nil {
		m.setStatus(StatusDisconnected)
		return err
	}

	// Phase 2: Bluetooth advertisement scan.
	m.setStatus(StatusConnectingBluetooth)
	btHandles, err := m.cfg.Scanner.ScanBluetooth(ctx, allowList)
	if err != nil {
		m.setStatus(StatusDisconnected)
		return &HardwareError{Op: "scan bluetooth dots", Err: err}
	}

	// Phase 3: resolve identities and match the transports.
	m.setStatus(StatusIdentifyingDevices)

	type pair struct {
		bt  transport.BluetoothHandle
		usb transport.USBHandle
	}
	var pairs []pair
	var missing []string

	for _, bt := range btHandles {
		if err := m.connectBluetooth(bt); err != nil {
			m.setStatus(StatusDisconnected)
			return &HardwareError{Op: "connect bluetooth dot " + bt.Address(), Err: err}
		}

		id, known, err := m.cfg.Store.FindDeviceByAddress(ctx, bt.Address())
		if err != nil {
			m.setStatus(StatusDisconnected)
			return &HardwareError{Op: "resolve device identity", Err: err}
		}
		if !known {
			id = bt.DeviceID()
			if err := m.cfg.Store.RegisterDevice(ctx, id, bt.Address(), bt.TagName()); err != nil {
				m.setStatus(StatusDisconnected)
				return &HardwareError{Op: "register device " + id, Err: err}
			}
			m.logger.WithFields(logrus.Fields{
				"device": id,
				"tag":    bt.TagName(),
			}).Info("Registered new dot")
		}

		usb, ok := usbByID.Get(id)
		if !ok {
			missing = append(missing, bt.TagName())
			continue
		}
		pairs = append(pairs, pair{bt: bt, usb: usb})
	}

	if len(missing) > 0 {
		m.setStatus(StatusDisconnected)
		return &MissingSensorsError{Names: missing}
	}

	sessions := make([]*session.DeviceSession, 0, len(pairs))
	for _, p := range pairs {
		s, err := session.New(p.bt, p.usb, m.cfg.Store, m.cfg.Classifier, m.cfg.DataDir, m.cfg.SessionOptions, m.logger)
		if err != nil {
			m.setStatus(StatusDisconnected)
			return &HardwareError{Op: "initialize session " + p.bt.DeviceID(), Err: err}
		}
		sessions = append(sessions, s)
		m.registry.Set(s.ID(), s)
	}

	// Phase 4: all docked sensors start plugged in; seed the diff snapshot
	// with the full set.
	m.sessions.Store(&sessions)
	plugged := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		plugged[s.ID()] = struct{}{}
	}
	m.prevPlugged = plugged

	m.setStatus(StatusConnected)
	return nil
}

// connectBluetooth opens a dot's wireless link. Wireless pairing is flaky and
// often fails on the first try, hence the local retry.
func (m *Monitor) connectBluetooth(bt transport.BluetoothHandle) error {
	var lastErr error
	for attempt := 0; attempt < btConnectRetries; attempt++ {
		if bt.Alive() {
			return nil
		}
		if err := bt.Connect(); err != nil {
			lastErr = err
			m.logger.WithError(err).WithField("address", bt.Address()).Warn("Bluetooth connect failed, retrying")
			time.Sleep(btConnectDelay)
			continue
		}
		return nil
	}
	return lastErr
}

// StartMonitoring launches the steady-state polling loop on its own
// goroutine. Called exactly once per process run, after a successful
// bootstrap; subsequent calls are no-ops.
func (m *Monitor) StartMonitoring(ctx context.Context, onPlugged, onUnplugged Callback) {
	m.monitorOnce.Do(func() {
		groutine.Go(ctx, "usb-monitor", func(ctx context.Context) {
			ticker := time.NewTicker(m.cfg.PollInterval)
			defer ticker.Stop()
			defer m.logger.Debugf("%s: exiting", groutine.Name(ctx))
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.pollOnce(onPlugged, onUnplugged)
				}
			}
		})
		m.setStatus(StatusMonitoringStarted)
	})
}

// pollOnce diffs the current charging set against the previous tick's
// snapshot and dispatches plug/unplug transitions. A session can never be
// classified as both newly plugged and newly unplugged in the same tick.
func (m *Monitor) pollOnce(onPlugged, onUnplugged Callback) {
	sessions := *m.sessions.Load()

	charging := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		s.PumpEvents()
		if s.IsCharging() {
			charging[s.ID()] = struct{}{}
		}
	}

	for _, s := range sessions {
		id := s.ID()
		_, now := charging[id]
		_, before := m.prevPlugged[id]

		switch {
		case before && !now:
			s.CloseUSB()
			if !s.IsRecording() && onUnplugged != nil {
				onUnplugged(s)
			}

		case now && !before:
			if err := s.OpenUSB(); err != nil {
				// Leave the session out of the snapshot so the open is
				// retried on the next tick.
				m.logger.WithError(err).WithField("device", id).Warn("USB reopen failed, will retry")
				delete(charging, id)
				continue
			}
			if (s.IsRecording() || s.PendingCount() > 0) && onPlugged != nil {
				onPlugged(s)
			}
		}
	}

	m.prevPlugged = charging
}

// EstimateFleetExportSeconds estimates a full-fleet export: sensors export in
// parallel, so the fleet takes as long as its slowest member.
func (m *Monitor) EstimateFleetExportSeconds() float64 {
	max := 0.0
	for _, s := range m.Sessions() {
		est, err := s.EstimatedExportSeconds()
		if err != nil {
			m.logger.WithError(err).WithField("device", s.ID()).Error("Could not estimate export time")
			continue
		}
		if est > max {
			max = est
		}
	}
	return max
}
