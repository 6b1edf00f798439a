// Package dotble implements the Bluetooth side of the dot transport on top of
// go-ble: advertisement discovery plus the GATT control/battery/message
// surface of the sensor.
package dotble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"dotfleet/internal/discovery"
)

// advertised name prefixes across firmware generations
var dotNamePrefixes = []string{"Movella DOT", "Xsens DOT"}

// Provider discovers advertising dots and hands out Bluetooth handles bound
// to the host adapter.
type Provider struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device

	// newDevice is swapped in tests.
	newDevice func() (ble.Device, error)
}

// NewProvider creates a provider over the host's default HCI adapter.
func NewProvider(logger *logrus.Logger) *Provider {
	if logger == nil {
		logger = logrus.New()
	}
	return &Provider{
		logger: logger,
		newDevice: func() (ble.Device, error) {
			return linux.NewDevice()
		},
	}
}

func (p *Provider) device() (ble.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev != nil {
		return p.dev, nil
	}
	dev, err := p.newDevice()
	if err != nil {
		return nil, fmt.Errorf("open bluetooth adapter: %w", err)
	}
	p.dev = dev
	return dev, nil
}

// Close releases the HCI adapter.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return nil
	}
	err := p.dev.Stop()
	p.dev = nil
	return err
}

// Scan runs an advertisement scan until ctx expires, reporting each
// advertising dot once per advertisement received.
func (p *Provider) Scan(ctx context.Context, onEvent func(discovery.ScanEvent)) error {
	dev, err := p.device()
	if err != nil {
		onEvent(discovery.ScanEvent{Err: err})
		return err
	}

	err = dev.Scan(ctx, false, func(a ble.Advertisement) {
		name := a.LocalName()
		if !isDotName(name) {
			return
		}
		onEvent(discovery.ScanEvent{
			Handle: newHandle(dev, a.Addr().String(), name, p.logger),
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("advertisement scan: %w", err)
	}
	return nil
}

func isDotName(name string) bool {
	for _, prefix := range dotNamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
