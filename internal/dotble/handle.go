package dotble

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"dotfleet/internal/transport"
)

// GATT surface of the dot. UUIDs are fixed by the firmware.
var (
	uuidDeviceInfo     = ble.MustParse("15171001-4947-11e9-8646-d663bd873d93")
	uuidDeviceControl  = ble.MustParse("15171002-4947-11e9-8646-d663bd873d93")
	uuidBatteryStatus  = ble.MustParse("15173001-4947-11e9-8646-d663bd873d93")
	uuidMessageControl = ble.MustParse("15177001-4947-11e9-8646-d663bd873d93")
	uuidMessageAck     = ble.MustParse("15177002-4947-11e9-8646-d663bd873d93")
	uuidMessageNotify  = ble.MustParse("15177003-4947-11e9-8646-d663bd873d93")
)

// message opcodes on the message control characteristic
const (
	msgRecordingStart = 0x01
	msgRecordingStop  = 0x02
	msgAckOK          = 0x00
)

// device state codes as reported by the device control characteristic
const (
	stateCodeIdle      = 0x00
	stateCodeStreaming = 0x02
	stateCodeRecording = 0x04
	stateCodeExporting = 0x06
)

const connectTimeout = 10 * time.Second

// Handle is the Bluetooth streaming/control link of one dot.
type Handle struct {
	dev    ble.Device
	addr   string
	logger *logrus.Logger

	events *transport.EventQueue

	mu       sync.Mutex
	client   ble.Client
	profile  *ble.Profile
	deviceID string
	tag      string
	battery  int
	charging bool
}

var _ transport.BluetoothHandle = (*Handle)(nil)

func newHandle(dev ble.Device, addr, advertisedName string, logger *logrus.Logger) *Handle {
	return &Handle{
		dev:    dev,
		addr:   addr,
		tag:    tagFromAdvertisedName(advertisedName),
		logger: logger,
		events: transport.NewEventQueue(64),
	}
}

// tagFromAdvertisedName strips the product prefix: "Movella DOT A3" → "A3".
func tagFromAdvertisedName(name string) string {
	for _, prefix := range dotNamePrefixes {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return name
}

func (h *Handle) Kind() transport.Kind { return transport.KindBluetooth }

func (h *Handle) Address() string { return h.addr }

func (h *Handle) DeviceID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deviceID
}

func (h *Handle) TagName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tag
}

func (h *Handle) BatteryLevel() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.battery
}

func (h *Handle) BatteryCharging() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.charging
}

func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client != nil
}

func (h *Handle) Events() <-chan transport.Event { return h.events.C() }

// Connect dials the dot, discovers its GATT profile, reads identity, and
// subscribes to battery and message notifications.
func (h *Handle) Connect() error {
	h.mu.Lock()
	if h.client != nil {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := h.dev.Dial(ctx, ble.NewAddr(h.addr))
	if err != nil {
		return fmt.Errorf("dial %s: %w", h.addr, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("discover profile %s: %w", h.addr, err)
	}

	info, err := h.readChar(client, profile, uuidDeviceInfo)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("read device info %s: %w", h.addr, err)
	}
	if len(info) < 8 {
		_ = client.CancelConnection()
		return fmt.Errorf("device info from %s too short: %d bytes", h.addr, len(info))
	}

	h.mu.Lock()
	h.client = client
	h.profile = profile
	h.deviceID = hex.EncodeToString(info[:8])
	if len(info) > 8 {
		if tag := strings.TrimRight(string(info[8:]), "\x00"); tag != "" {
			h.tag = tag
		}
	}
	h.mu.Unlock()

	if err := h.subscribe(client, profile, uuidBatteryStatus, h.onBatteryNotify); err != nil {
		h.logger.WithError(err).WithField("address", h.addr).Warn("Battery subscription failed")
	}
	if err := h.subscribe(client, profile, uuidMessageNotify, h.onMessageNotify); err != nil {
		h.logger.WithError(err).WithField("address", h.addr).Warn("Message subscription failed")
	}

	// Prime the battery state so charging reads do not wait for the first
	// notification.
	if batt, err := h.readChar(client, profile, uuidBatteryStatus); err == nil {
		h.onBatteryNotify(batt)
	}

	h.logger.WithFields(logrus.Fields{
		"address": h.addr,
		"device":  h.DeviceID(),
		"tag":     h.TagName(),
	}).Info("Bluetooth dot connected")
	return nil
}

// Disconnect drops the wireless link. Idempotent.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	client := h.client
	h.client = nil
	h.profile = nil
	h.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.CancelConnection()
}

// State reads the device control characteristic and maps the firmware's state
// code onto the closed DeviceState set.
func (h *Handle) State() transport.DeviceState {
	h.mu.Lock()
	client, profile := h.client, h.profile
	h.mu.Unlock()
	if client == nil {
		return transport.StateUnknown
	}

	data, err := h.readChar(client, profile, uuidDeviceControl)
	if err != nil || len(data) == 0 {
		return transport.StateUnknown
	}
	switch data[0] {
	case stateCodeIdle:
		return transport.StateIdle
	case stateCodeStreaming:
		return transport.StateStreaming
	case stateCodeRecording:
		return transport.StateRecording
	case stateCodeExporting:
		return transport.StateExporting
	default:
		return transport.StateUnknown
	}
}

// StartRecording commands the firmware to open a recording. False on refusal.
func (h *Handle) StartRecording() bool {
	return h.sendMessage(msgRecordingStart)
}

// StopRecording commands the firmware to close the open recording. False on
// refusal.
func (h *Handle) StopRecording() bool {
	return h.sendMessage(msgRecordingStop)
}

// sendMessage writes an opcode to the message control characteristic and
// checks the acknowledge characteristic.
func (h *Handle) sendMessage(opcode byte) bool {
	h.mu.Lock()
	client, profile := h.client, h.profile
	h.mu.Unlock()
	if client == nil {
		return false
	}

	if err := h.writeChar(client, profile, uuidMessageControl, []byte{opcode}); err != nil {
		h.logger.WithError(err).WithField("address", h.addr).Error("Message write failed")
		return false
	}

	ack, err := h.readChar(client, profile, uuidMessageAck)
	if err != nil {
		h.logger.WithError(err).WithField("address", h.addr).Error("Message ack read failed")
		return false
	}
	return len(ack) >= 2 && ack[0] == opcode && ack[1] == msgAckOK
}

// onBatteryNotify parses a battery status notification: level byte followed
// by a charging flag byte.
func (h *Handle) onBatteryNotify(data []byte) {
	if len(data) < 2 {
		return
	}
	level := int(data[0])
	charging := data[1] == 1

	h.mu.Lock()
	h.battery = level
	h.charging = charging
	h.mu.Unlock()

	h.events.Push(transport.Event{
		Kind:         transport.EventBatteryUpdated,
		BatteryLevel: level,
		Charging:     charging,
	})
}

// onMessageNotify handles unsolicited firmware messages. The only one the
// fleet cares about is the synchronization button tap, which carries the
// hardware timestamp of the press.
func (h *Handle) onMessageNotify(data []byte) {
	const msgButtonPressed = 0x10
	if len(data) < 5 || data[0] != msgButtonPressed {
		return
	}
	h.events.Push(transport.Event{
		Kind:            transport.EventButtonPressed,
		ButtonTimestamp: uint64(binary.LittleEndian.Uint32(data[1:5])),
	})
}

func (h *Handle) findChar(profile *ble.Profile, uuid ble.UUID) (*ble.Characteristic, error) {
	if profile == nil {
		return nil, fmt.Errorf("no GATT profile")
	}
	if c := profile.FindCharacteristic(ble.NewCharacteristic(uuid)); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("characteristic %s not found", uuid)
}

func (h *Handle) readChar(client ble.Client, profile *ble.Profile, uuid ble.UUID) ([]byte, error) {
	c, err := h.findChar(profile, uuid)
	if err != nil {
		return nil, err
	}
	return client.ReadCharacteristic(c)
}

func (h *Handle) writeChar(client ble.Client, profile *ble.Profile, uuid ble.UUID, data []byte) error {
	c, err := h.findChar(profile, uuid)
	if err != nil {
		return err
	}
	return client.WriteCharacteristic(c, data, false)
}

func (h *Handle) subscribe(client ble.Client, profile *ble.Profile, uuid ble.UUID, handler func([]byte)) error {
	c, err := h.findChar(profile, uuid)
	if err != nil {
		return err
	}
	return client.Subscribe(c, false, func(data []byte) {
		// go-ble reuses the notification buffer; copy before handing off.
		buf := make([]byte, len(data))
		copy(buf, data)
		handler(buf)
	})
}
