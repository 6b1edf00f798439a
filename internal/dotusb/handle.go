package dotusb

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dotfleet/internal/groutine"
	"dotfleet/internal/transport"
)

// Serial framing on the export port: preamble, bus ID, message ID, payload
// length, payload, checksum. The checksum makes every byte after the preamble
// sum to zero mod 256.
const (
	framePreamble = 0xFA
	frameBusID    = 0xFF
)

// message IDs
const (
	midReqRecordingCount = 0x52
	midRecordingCount    = 0x53
	midReqRecordingInfo  = 0x54
	midRecordingInfo     = 0x55
	midSelectExportData  = 0x56
	midSelectExportAck   = 0x57
	midStartExport       = 0x58
	midStartExportAck    = 0x59
	midExportData        = 0x5A
	midExportDone        = 0x5C
	midEraseFlash        = 0x5E
	midEraseFlashAck     = 0x5F
)

const replyTimeout = 2 * time.Second

// Handle is the USB data-export link of one dot.
type Handle struct {
	provider *Provider
	devnode  string
	serial   string
	logger   *logrus.Logger

	events *transport.EventQueue

	mu       sync.Mutex
	port     *os.File
	reader   *bufio.Reader
	selected []transport.ExportField
}

var _ transport.USBHandle = (*Handle)(nil)

func newHandle(provider *Provider, devnode, serial string, logger *logrus.Logger) *Handle {
	return &Handle{
		provider: provider,
		devnode:  devnode,
		serial:   serial,
		logger:   logger,
		events:   transport.NewEventQueue(4096),
		selected: transport.CoreExportFields,
	}
}

func (h *Handle) Kind() transport.Kind { return transport.KindUSB }

func (h *Handle) DeviceID() string { return h.serial }

// Address is empty: only the Bluetooth link has a physical address.
func (h *Handle) Address() string { return "" }

func (h *Handle) Events() <-chan transport.Event { return h.events.C() }

func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port != nil && h.provider.present(h.devnode)
}

// Connect opens the dot's serial port. Idempotent.
func (h *Handle) Connect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port != nil {
		return nil
	}
	port, err := os.OpenFile(h.devnode, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", h.devnode, err)
	}
	h.port = port
	h.reader = bufio.NewReader(port)
	return nil
}

// Disconnect closes the serial port. Idempotent.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port == nil {
		return nil
	}
	err := h.port.Close()
	h.port = nil
	h.reader = nil
	return err
}

// RecordingCount asks the firmware how many recordings sit in flash. The
// firmware answers 0xFFFF while a recording is open; that surfaces as the -1
// sentinel. Communication failures also report -1 so a flaky link is never
// mistaken for an empty flash.
func (h *Handle) RecordingCount() int {
	reply, err := h.request(midReqRecordingCount, nil, midRecordingCount)
	if err != nil || len(reply) < 2 {
		return -1
	}
	return int(int16(binary.BigEndian.Uint16(reply[:2])))
}

// RecordingInfo reads the metadata of the recording at index (1-based).
func (h *Handle) RecordingInfo(index int) (transport.RecordingInfo, error) {
	reply, err := h.request(midReqRecordingInfo, []byte{byte(index)}, midRecordingInfo)
	if err != nil {
		return transport.RecordingInfo{}, err
	}
	if len(reply) < 9 || int(reply[0]) != index {
		return transport.RecordingInfo{}, fmt.Errorf("recording %d: malformed info reply", index)
	}
	return transport.RecordingInfo{
		StartUTC:    time.Unix(int64(binary.BigEndian.Uint32(reply[1:5])), 0).UTC(),
		StorageSize: int64(binary.BigEndian.Uint32(reply[5:9])),
	}, nil
}

// SelectExportFields tells the firmware which column groups to stream.
func (h *Handle) SelectExportFields(fields []transport.ExportField) error {
	payload := make([]byte, len(fields))
	for i, f := range fields {
		payload[i] = byte(f)
	}
	reply, err := h.request(midSelectExportData, payload, midSelectExportAck)
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != 0 {
		return fmt.Errorf("firmware rejected export field selection")
	}

	h.mu.Lock()
	h.selected = append([]transport.ExportField(nil), fields...)
	h.mu.Unlock()
	return nil
}

// StartExportRecording begins streaming one recording. Samples arrive on the
// event queue; EventExportDone marks the end.
func (h *Handle) StartExportRecording(index int) error {
	reply, err := h.request(midStartExport, []byte{byte(index)}, midStartExportAck)
	if err != nil {
		return err
	}
	if len(reply) < 1 || reply[0] != 0 {
		return fmt.Errorf("firmware refused export of recording %d", index)
	}

	groutine.Go(context.Background(), "usb-export-"+h.serial, func(ctx context.Context) {
		defer h.logger.Debugf("%s: exiting", groutine.Name(ctx))
		h.readExportStream()
	})
	return nil
}

// readExportStream drains sample frames until the end marker. A read error
// still pushes the completion event so the pipeline is never left blocked.
func (h *Handle) readExportStream() {
	h.mu.Lock()
	selected := h.selected
	h.mu.Unlock()

	for {
		mid, payload, err := h.readFrame()
		if err != nil {
			h.logger.WithError(err).WithField("device", h.serial).Error("Export stream read failed")
			h.events.Push(transport.Event{Kind: transport.EventExportDone})
			return
		}
		switch mid {
		case midExportData:
			sample, err := parseSample(payload, selected)
			if err != nil {
				h.logger.WithError(err).WithField("device", h.serial).Warn("Dropping malformed sample frame")
				continue
			}
			h.events.Push(transport.Event{Kind: transport.EventRecordedData, Sample: sample})
		case midExportDone:
			h.events.Push(transport.Event{Kind: transport.EventExportDone})
			return
		}
	}
}

// EraseFlash wipes the dot's recording storage. False on refusal or a
// communication fault; the caller owns the retry policy.
func (h *Handle) EraseFlash() bool {
	reply, err := h.request(midEraseFlash, nil, midEraseFlashAck)
	if err != nil {
		h.logger.WithError(err).WithField("device", h.serial).Error("Erase flash failed")
		return false
	}
	return len(reply) >= 1 && reply[0] == 0
}

// request writes one command frame and reads frames until the expected reply
// arrives. Unrelated frames received in between are discarded.
func (h *Handle) request(mid byte, payload []byte, replyMid byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port == nil {
		return nil, fmt.Errorf("%s: port not open", h.devnode)
	}

	if _, err := h.port.Write(encodeFrame(mid, payload)); err != nil {
		return nil, fmt.Errorf("write command %#x: %w", mid, err)
	}

	deadline := time.Now().Add(replyTimeout)
	for time.Now().Before(deadline) {
		gotMid, reply, err := h.readFrameLocked()
		if err != nil {
			return nil, err
		}
		if gotMid == replyMid {
			return reply, nil
		}
	}
	return nil, fmt.Errorf("timeout waiting for reply %#x", replyMid)
}

func (h *Handle) readFrame() (byte, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readFrameLocked()
}

func (h *Handle) readFrameLocked() (byte, []byte, error) {
	if h.reader == nil {
		return 0, nil, fmt.Errorf("%s: port not open", h.devnode)
	}
	return decodeFrame(h.reader)
}

// parseSample decodes one sample frame laid out per the selected field
// groups, in firmware order: counter, timestamp, euler, quaternion,
// acceleration, angular velocity, magnetic field.
func parseSample(payload []byte, selected []transport.ExportField) (*transport.Sample, error) {
	has := func(f transport.ExportField) bool {
		for _, s := range selected {
			if s == f {
				return true
			}
		}
		return false
	}

	off := 0
	need := func(n int) error {
		if off+n > len(payload) {
			return fmt.Errorf("sample frame truncated at offset %d", off)
		}
		return nil
	}
	f32 := func() float64 {
		v := math.Float32frombits(binary.BigEndian.Uint32(payload[off : off+4]))
		off += 4
		return float64(v)
	}

	if err := need(2); err != nil {
		return nil, err
	}
	s := &transport.Sample{PacketCounter: int(binary.BigEndian.Uint16(payload[:2]))}
	off = 2

	if has(transport.FieldTimestamp) {
		if err := need(4); err != nil {
			return nil, err
		}
		s.SampleTimeFine = uint64(binary.BigEndian.Uint32(payload[off : off+4]))
		off += 4
	}
	if has(transport.FieldEuler) {
		if err := need(12); err != nil {
			return nil, err
		}
		s.EulerX, s.EulerY, s.EulerZ = f32(), f32(), f32()
	}
	if has(transport.FieldQuaternion) {
		if err := need(16); err != nil {
			return nil, err
		}
		s.QuatW, s.QuatX, s.QuatY, s.QuatZ = f32(), f32(), f32(), f32()
	}
	if has(transport.FieldAcceleration) {
		if err := need(12); err != nil {
			return nil, err
		}
		s.AccX, s.AccY, s.AccZ = f32(), f32(), f32()
	}
	if has(transport.FieldAngularVelocity) {
		if err := need(12); err != nil {
			return nil, err
		}
		s.GyrX, s.GyrY, s.GyrZ = f32(), f32(), f32()
	}
	if has(transport.FieldMagneticField) {
		if err := need(12); err != nil {
			return nil, err
		}
		s.MagX, s.MagY, s.MagZ = f32(), f32(), f32()
	}
	return s, nil
}
