// Package dotusb implements the USB side of the dot transport: sysfs
// enumeration of docked sensors, hot-plug tracking over udev netlink, and the
// serial export protocol spoken on the dot's CDC-ACM port.
package dotusb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
	"github.com/sirupsen/logrus"

	"dotfleet/internal/transport"
)

// vendorID is the USB vendor ID the dots enumerate under.
const vendorID = "2639"

// Provider enumerates docked dots and tracks their presence via udev events.
type Provider struct {
	logger *logrus.Logger

	// sysfsRoot is overridden in tests.
	sysfsRoot string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	absent  map[string]struct{}
	started bool
}

// NewProvider creates a USB provider reading the host's sysfs tree.
func NewProvider(logger *logrus.Logger) *Provider {
	if logger == nil {
		logger = logrus.New()
	}
	return &Provider{
		logger:    logger,
		sysfsRoot: "/sys/class/tty",
		absent:    make(map[string]struct{}),
	}
}

// DetectUSB scans sysfs for CDC-ACM ports whose parent USB device carries the
// dot vendor ID.
func (p *Provider) DetectUSB() ([]transport.USBHandle, error) {
	ports, err := filepath.Glob(filepath.Join(p.sysfsRoot, "ttyACM*"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.sysfsRoot, err)
	}

	var handles []transport.USBHandle
	for _, port := range ports {
		// The tty node's `device` entry is a symlink to the CDC-ACM
		// interface directory (.../usbN/N-M/N-M:1.0); the USB device
		// carrying idVendor and serial is its parent. The symlink must be
		// resolved before ascending, otherwise Clean erases the hop.
		iface, err := filepath.EvalSymlinks(filepath.Join(port, "device"))
		if err != nil {
			continue
		}
		usbDir := filepath.Dir(iface)

		vendor, err := readSysfsAttr(usbDir, "idVendor")
		if err != nil || vendor != vendorID {
			continue
		}
		serial, err := readSysfsAttr(usbDir, "serial")
		if err != nil || serial == "" {
			p.logger.WithField("port", port).Warn("Dot port without serial, skipping")
			continue
		}

		devnode := "/dev/" + filepath.Base(port)
		handles = append(handles, newHandle(p, devnode, serial, p.logger))
		p.logger.WithFields(logrus.Fields{
			"device":  serial,
			"devnode": devnode,
		}).Info("Detected docked dot")
	}
	return handles, nil
}

func readSysfsAttr(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Start begins listening for udev tty add/remove events so handle liveness
// reflects physical unplugs. Failure is non-fatal: detection still works, a
// stale port just surfaces as an I/O error instead.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		p.logger.WithError(err).Warn("Could not open udev netlink socket; hot-plug tracking disabled")
		return nil
	}
	p.conn = conn
	p.started = true

	go p.monitorLoop(ctx, conn)
	p.logger.Info("udev hot-plug monitor started")
	return nil
}

// Stop shuts down the udev monitor.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	_ = p.conn.Close()
	p.conn = nil
	p.started = false
}

func (p *Provider) monitorLoop(ctx context.Context, conn *netlink.UEventConn) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    map[string]string{"SUBSYSTEM": "tty"},
	})

	quit := conn.Monitor(queue, errs, rules)
	for {
		select {
		case <-ctx.Done():
			close(quit)
			return
		case uevent := <-queue:
			devname := uevent.Env["DEVNAME"]
			if devname == "" || !strings.Contains(devname, "ttyACM") {
				continue
			}
			if !strings.HasPrefix(devname, "/dev/") {
				devname = "/dev/" + devname
			}
			p.mu.Lock()
			if uevent.Action == netlink.REMOVE {
				p.absent[devname] = struct{}{}
			} else {
				delete(p.absent, devname)
			}
			p.mu.Unlock()
			p.logger.WithFields(logrus.Fields{
				"devnode": devname,
				"action":  string(uevent.Action),
			}).Debug("tty hot-plug event")
		case err := <-errs:
			p.logger.WithError(err).Warn("udev monitor error")
		}
	}
}

// present reports whether a device node is believed attached. Without the
// udev monitor every node counts as present.
func (p *Provider) present(devnode string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, gone := p.absent[devnode]
	return !gone
}
