// Package transport defines the boundary to one physical link (USB or
// Bluetooth) of a dot sensor. Implementations wrap the vendor hardware; the
// rest of the system only ever sees these interfaces.
package transport

import (
	"fmt"
	"time"
)

// Kind identifies the physical transport behind a handle.
type Kind int

const (
	KindUSB Kind = iota
	KindBluetooth
)

func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "usb"
	case KindBluetooth:
		return "bluetooth"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DeviceState is the closed set of hardware states a dot reports. It replaces
// the raw integer state codes exposed by the vendor firmware.
type DeviceState int

const (
	StateUnknown DeviceState = iota
	StateIdle
	StateStreaming
	StateRecording
	StateExporting
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateRecording:
		return "recording"
	case StateExporting:
		return "exporting"
	default:
		return "unknown"
	}
}

// ExportField selects one group of sample columns for a hardware export.
type ExportField int

const (
	FieldTimestamp ExportField = iota
	FieldEuler
	FieldAcceleration
	FieldAngularVelocity
	FieldMagneticField
	FieldQuaternion
	FieldStatus
)

// CoreExportFields are the columns every export requests.
var CoreExportFields = []ExportField{
	FieldTimestamp,
	FieldEuler,
	FieldAcceleration,
	FieldAngularVelocity,
}

// ResearchExportFields are the extra columns requested when a full research
// dataset is wanted.
var ResearchExportFields = []ExportField{
	FieldMagneticField,
	FieldQuaternion,
	FieldStatus,
}

// RecordingInfo describes one recording stored on a dot's flash.
type RecordingInfo struct {
	StartUTC    time.Time
	StorageSize int64
}

// Handle is the capability common to both links of a dot.
//
// All methods are blocking and are not cancellable mid-call; a stuck hardware
// call stalls only the goroutine that issued it.
type Handle interface {
	Kind() Kind

	// DeviceID is the chip's hardware identifier.
	DeviceID() string

	// Address is the physical Bluetooth address. Empty for USB handles.
	Address() string

	Connect() error
	Disconnect() error
	Alive() bool

	// Events exposes the handle's hardware event queue. Events are pushed by
	// the transport implementation and drained by whichever goroutine owns
	// the session holding this handle.
	Events() <-chan Event
}

// BluetoothHandle is the streaming/control link of a dot.
type BluetoothHandle interface {
	Handle

	TagName() string
	BatteryLevel() int
	BatteryCharging() bool
	State() DeviceState

	// StartRecording and StopRecording report hardware refusal as false, not
	// as an error: refusal is a routine, retryable condition.
	StartRecording() bool
	StopRecording() bool
}

// USBHandle is the data-export link of a dot.
type USBHandle interface {
	Handle

	// RecordingCount reports the number of recordings held in flash.
	RecordingCount() int

	// RecordingInfo reads metadata for the recording at index (1-based, per
	// the vendor convention).
	RecordingInfo(index int) (RecordingInfo, error)

	SelectExportFields(fields []ExportField) error
	StartExportRecording(index int) error

	// EraseFlash wipes all stored recordings. False on hardware refusal.
	EraseFlash() bool
}
