// Package testutils provides fake transports, stores, and collaborators used
// across the package tests. The fakes are deterministic and record every
// command issued to them so tests can assert on exact hardware traffic.
package testutils

import (
	"sync"

	"dotfleet/internal/transport"
)

// FakeBluetoothHandle is an in-memory BluetoothHandle with a fluent builder
// API. Only the fields a test sets deviate from the safe defaults.
type FakeBluetoothHandle struct {
	mu sync.Mutex

	id       string
	address  string
	tagName  string
	battery  int
	charging bool
	state    transport.DeviceState

	connected   bool
	connectErr  error
	refuseStart bool
	refuseStop  bool

	events   *transport.EventQueue
	commands []string
}

var _ transport.BluetoothHandle = (*FakeBluetoothHandle)(nil)

// NewFakeBluetooth creates a connected, idle handle with a full battery.
func NewFakeBluetooth(id string) *FakeBluetoothHandle {
	return &FakeBluetoothHandle{
		id:      id,
		address: "AA:BB:CC:00:00:" + pad2(id),
		battery: 100,
		state:   transport.StateIdle,
		events:  transport.NewEventQueue(64),
	}
}

func pad2(s string) string {
	if len(s) >= 2 {
		return s[len(s)-2:]
	}
	return "0" + s
}

func (h *FakeBluetoothHandle) WithAddress(addr string) *FakeBluetoothHandle {
	h.address = addr
	return h
}

func (h *FakeBluetoothHandle) WithTagName(tag string) *FakeBluetoothHandle {
	h.tagName = tag
	return h
}

func (h *FakeBluetoothHandle) WithState(s transport.DeviceState) *FakeBluetoothHandle {
	h.state = s
	return h
}

func (h *FakeBluetoothHandle) WithBattery(level int, charging bool) *FakeBluetoothHandle {
	h.battery = level
	h.charging = charging
	return h
}

// WithConnectError makes Connect fail with err.
func (h *FakeBluetoothHandle) WithConnectError(err error) *FakeBluetoothHandle {
	h.connectErr = err
	return h
}

// RefuseRecordingCommands makes StartRecording and StopRecording report
// hardware refusal.
func (h *FakeBluetoothHandle) RefuseRecordingCommands() *FakeBluetoothHandle {
	h.refuseStart = true
	h.refuseStop = true
	return h
}

func (h *FakeBluetoothHandle) Kind() transport.Kind { return transport.KindBluetooth }
func (h *FakeBluetoothHandle) DeviceID() string     { return h.id }
func (h *FakeBluetoothHandle) Address() string      { return h.address }
func (h *FakeBluetoothHandle) TagName() string      { return h.tagName }

func (h *FakeBluetoothHandle) Events() <-chan transport.Event { return h.events.C() }

func (h *FakeBluetoothHandle) Connect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "connect")
	if h.connectErr != nil {
		return h.connectErr
	}
	h.connected = true
	return nil
}

func (h *FakeBluetoothHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "disconnect")
	h.connected = false
	return nil
}

func (h *FakeBluetoothHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *FakeBluetoothHandle) BatteryLevel() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.battery
}

func (h *FakeBluetoothHandle) BatteryCharging() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.charging
}

func (h *FakeBluetoothHandle) State() transport.DeviceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState changes the reported hardware state mid-test.
func (h *FakeBluetoothHandle) SetState(s transport.DeviceState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// SetCharging flips the charging flag, simulating a plug or unplug.
func (h *FakeBluetoothHandle) SetCharging(charging bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.charging = charging
}

func (h *FakeBluetoothHandle) StartRecording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "start-recording")
	if h.refuseStart {
		return false
	}
	h.state = transport.StateRecording
	return true
}

func (h *FakeBluetoothHandle) StopRecording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "stop-recording")
	if h.refuseStop {
		return false
	}
	h.state = transport.StateIdle
	return true
}

// PushEvent delivers a hardware event to whoever drains the handle.
func (h *FakeBluetoothHandle) PushEvent(e transport.Event) {
	h.events.Push(e)
}

// Commands returns the command log in issue order.
func (h *FakeBluetoothHandle) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}
