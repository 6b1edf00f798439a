package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dotfleet/internal/store"
)

type pendingRef struct {
	ref      string
	deviceID string
	start    time.Time
	released bool
}

// MemStore is an in-memory store.Store. It keeps pending references in
// creation order so the oldest-first contract holds.
type MemStore struct {
	mu      sync.Mutex
	devices []store.Device
	pending []pendingRef
	jumps   map[string][]store.JumpRecord
	nextRef int
}

var _ store.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{jumps: make(map[string][]store.JumpRecord)}
}

func (m *MemStore) RegisterDevice(_ context.Context, id, address, tagName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.ID == id {
			return fmt.Errorf("device %s already registered", id)
		}
	}
	m.devices = append(m.devices, store.Device{ID: id, Address: address, TagName: tagName})
	return nil
}

func (m *MemStore) FindDeviceByAddress(_ context.Context, address string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Address == address {
			return d.ID, true, nil
		}
	}
	return "", false, nil
}

func (m *MemStore) CreatePendingRecording(_ context.Context, deviceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRef++
	ref := fmt.Sprintf("ref-%s-%d", deviceID, m.nextRef)
	m.pending = append(m.pending, pendingRef{ref: ref, deviceID: deviceID})
	return ref, nil
}

func (m *MemStore) PendingRecordingRef(_ context.Context, deviceID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.deviceID == deviceID && !p.released {
			return p.ref, true, nil
		}
	}
	return "", false, nil
}

func (m *MemStore) SetRecordingStartTime(_ context.Context, ref string, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pending {
		if m.pending[i].ref == ref {
			m.pending[i].start = start
			return nil
		}
	}
	return fmt.Errorf("unknown recording ref %s", ref)
}

func (m *MemStore) ReleasePendingRecordingRef(_ context.Context, deviceID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pending {
		if m.pending[i].ref == ref && m.pending[i].deviceID == deviceID {
			if m.pending[i].released {
				return fmt.Errorf("recording ref %s already released", ref)
			}
			m.pending[i].released = true
			return nil
		}
	}
	return fmt.Errorf("unknown recording ref %s", ref)
}

func (m *MemStore) AppendJumpRecords(_ context.Context, ref string, records []store.JumpRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jumps[ref] = append(m.jumps[ref], records...)
	return nil
}

func (m *MemStore) Devices(_ context.Context) ([]store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Device(nil), m.devices...), nil
}

func (m *MemStore) SetDeviceTagName(_ context.Context, id, tagName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.devices {
		if m.devices[i].ID == id {
			m.devices[i].TagName = tagName
			return nil
		}
	}
	return fmt.Errorf("unknown device %s", id)
}

// PendingCount reports the unreleased references for a device.
func (m *MemStore) PendingCount(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pending {
		if p.deviceID == deviceID && !p.released {
			n++
		}
	}
	return n
}

// StartTime returns the recorded start time of a reference.
func (m *MemStore) StartTime(ref string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.ref == ref {
			return p.start, true
		}
	}
	return time.Time{}, false
}

// Jumps returns the jump records appended under a reference.
func (m *MemStore) Jumps(ref string) []store.JumpRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.JumpRecord(nil), m.jumps[ref]...)
}
