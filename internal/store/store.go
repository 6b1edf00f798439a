// Package store persists device registrations, pending recording references,
// and classified jump records.
//
// A pending recording reference is created before a recording starts and
// links the physical recording to its destination record; the export pipeline
// looks it up by device, fills in the real start time and the jump records,
// then releases it.
package store

import (
	"context"
	"time"
)

// Store is the persistence collaborator consumed by the fleet core.
type Store interface {
	// RegisterDevice records a brand-new dot under its stable hardware ID.
	RegisterDevice(ctx context.Context, id, address, tagName string) error

	// FindDeviceByAddress resolves a Bluetooth address to a stable device
	// ID. ok is false when the address is unknown.
	FindDeviceByAddress(ctx context.Context, address string) (id string, ok bool, err error)

	// CreatePendingRecording opens a new reference for a recording about to
	// be made on the device.
	CreatePendingRecording(ctx context.Context, deviceID string) (ref string, err error)

	// PendingRecordingRef returns the oldest unreleased reference for the
	// device. ok is false when none is pending.
	PendingRecordingRef(ctx context.Context, deviceID string) (ref string, ok bool, err error)

	SetRecordingStartTime(ctx context.Context, ref string, start time.Time) error

	// ReleasePendingRecordingRef marks the reference as consumed.
	ReleasePendingRecordingRef(ctx context.Context, deviceID, ref string) error

	AppendJumpRecords(ctx context.Context, ref string, records []JumpRecord) error

	// Devices lists every registered dot.
	Devices(ctx context.Context) ([]Device, error)

	// SetDeviceTagName updates the human-readable tag of a device.
	SetDeviceTagName(ctx context.Context, id, tagName string) error
}
