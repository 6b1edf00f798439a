package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"dotfleet/internal/classify"
	"dotfleet/internal/discovery"
	"dotfleet/internal/transport"
)

// QuietLogger returns a logger that discards all output, for tests that only
// care about behavior.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// FakeRadio records SetBluetooth calls and optionally fails them.
type FakeRadio struct {
	mu      sync.Mutex
	Err     error
	Toggles []bool
}

func (r *FakeRadio) SetBluetooth(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Toggles = append(r.Toggles, enabled)
	return nil
}

// FakeClassifier returns a canned jump list and counts invocations.
type FakeClassifier struct {
	mu     sync.Mutex
	Jumps  []classify.Jump
	Err    error
	tables []*classify.SampleTable
}

var _ classify.Classifier = (*FakeClassifier)(nil)

func (c *FakeClassifier) Classify(_ context.Context, table *classify.SampleTable) ([]classify.Jump, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = append(c.tables, table)
	if c.Err != nil {
		return nil, c.Err
	}
	return append([]classify.Jump(nil), c.Jumps...), nil
}

// Calls reports how many times Classify ran.
func (c *FakeClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}

// Tables returns the sample tables passed to Classify, in call order.
func (c *FakeClassifier) Tables() []*classify.SampleTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*classify.SampleTable(nil), c.tables...)
}

// FakeUSBProvider serves a fixed set of USB handles.
type FakeUSBProvider struct {
	Handles []transport.USBHandle
	Err     error
}

var _ discovery.USBProvider = (*FakeUSBProvider)(nil)

func (p *FakeUSBProvider) DetectUSB() ([]transport.USBHandle, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return append([]transport.USBHandle(nil), p.Handles...), nil
}

// FakeBluetoothProvider replays a fixed set of scan events and then lets the
// scan expire.
type FakeBluetoothProvider struct {
	Handles  []transport.BluetoothHandle
	EventErr error
	Err      error
}

var _ discovery.BluetoothProvider = (*FakeBluetoothProvider)(nil)

func (p *FakeBluetoothProvider) Scan(ctx context.Context, onEvent func(discovery.ScanEvent)) error {
	if p.Err != nil {
		return p.Err
	}
	for _, h := range p.Handles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		onEvent(discovery.ScanEvent{Handle: h})
	}
	if p.EventErr != nil {
		onEvent(discovery.ScanEvent{Err: p.EventErr})
	}
	return context.DeadlineExceeded
}
