package testutils

import (
	"fmt"
	"sync"
	"time"

	"dotfleet/internal/transport"
)

// FakeUSBHandle is an in-memory USBHandle. Recordings are scripted up front;
// StartExportRecording streams the scripted samples onto the event queue
// synchronously.
type FakeUSBHandle struct {
	mu sync.Mutex

	id string

	recordings []transport.RecordingInfo
	infoErrs   map[int]error
	samples    map[int][]transport.Sample

	connected     bool
	connectFails  int
	countOverride *int
	eraseResults  []bool

	events   *transport.EventQueue
	commands []string
}

var _ transport.USBHandle = (*FakeUSBHandle)(nil)

// NewFakeUSB creates a connected handle with an empty flash.
func NewFakeUSB(id string) *FakeUSBHandle {
	return &FakeUSBHandle{
		id:        id,
		infoErrs:  make(map[int]error),
		samples:   make(map[int][]transport.Sample),
		connected: true,
		events:    transport.NewEventQueue(4096),
	}
}

// WithRecording appends a recording with the given metadata and sample
// stream. Recordings are indexed from 1 in append order.
func (h *FakeUSBHandle) WithRecording(start time.Time, size int64, samples ...transport.Sample) *FakeUSBHandle {
	h.recordings = append(h.recordings, transport.RecordingInfo{StartUTC: start, StorageSize: size})
	h.samples[len(h.recordings)] = samples
	return h
}

// WithRecordingInfoError makes RecordingInfo(index) fail.
func (h *FakeUSBHandle) WithRecordingInfoError(index int, err error) *FakeUSBHandle {
	h.infoErrs[index] = err
	return h
}

// WithConnectFailures makes the next n Connect calls fail.
func (h *FakeUSBHandle) WithConnectFailures(n int) *FakeUSBHandle {
	h.connectFails = n
	h.connected = false
	return h
}

// WithRecordingCount forces RecordingCount to report n regardless of the
// scripted recordings. Use -1 to simulate the busy sentinel.
func (h *FakeUSBHandle) WithRecordingCount(n int) *FakeUSBHandle {
	h.countOverride = &n
	return h
}

// WithEraseResults scripts the outcomes of successive EraseFlash calls; after
// the script runs out every call succeeds.
func (h *FakeUSBHandle) WithEraseResults(results ...bool) *FakeUSBHandle {
	h.eraseResults = results
	return h
}

func (h *FakeUSBHandle) Kind() transport.Kind { return transport.KindUSB }
func (h *FakeUSBHandle) DeviceID() string     { return h.id }
func (h *FakeUSBHandle) Address() string      { return "" }

func (h *FakeUSBHandle) Events() <-chan transport.Event { return h.events.C() }

func (h *FakeUSBHandle) Connect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "connect")
	if h.connectFails > 0 {
		h.connectFails--
		return fmt.Errorf("fake usb %s: port busy", h.id)
	}
	h.connected = true
	return nil
}

func (h *FakeUSBHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "disconnect")
	h.connected = false
	return nil
}

func (h *FakeUSBHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *FakeUSBHandle) RecordingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "recording-count")
	if h.countOverride != nil {
		return *h.countOverride
	}
	return len(h.recordings)
}

func (h *FakeUSBHandle) RecordingInfo(index int) (transport.RecordingInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, fmt.Sprintf("recording-info %d", index))
	if err, ok := h.infoErrs[index]; ok {
		return transport.RecordingInfo{}, err
	}
	if index < 1 || index > len(h.recordings) {
		return transport.RecordingInfo{}, fmt.Errorf("fake usb %s: no recording %d", h.id, index)
	}
	return h.recordings[index-1], nil
}

func (h *FakeUSBHandle) SelectExportFields(fields []transport.ExportField) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, fmt.Sprintf("select-fields %v", fields))
	return nil
}

func (h *FakeUSBHandle) StartExportRecording(index int) error {
	h.mu.Lock()
	h.commands = append(h.commands, fmt.Sprintf("start-export %d", index))
	samples, ok := h.samples[index]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("fake usb %s: no recording %d", h.id, index)
	}
	for i := range samples {
		s := samples[i]
		h.events.Push(transport.Event{Kind: transport.EventRecordedData, Sample: &s})
	}
	h.events.Push(transport.Event{Kind: transport.EventExportDone})
	return nil
}

func (h *FakeUSBHandle) EraseFlash() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, "erase-flash")
	if len(h.eraseResults) > 0 {
		result := h.eraseResults[0]
		h.eraseResults = h.eraseResults[1:]
		return result
	}
	h.recordings = nil
	h.samples = make(map[int][]transport.Sample)
	return true
}

// Commands returns the command log in issue order.
func (h *FakeUSBHandle) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}
