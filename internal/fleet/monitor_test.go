package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dotfleet/internal/discovery"
	"dotfleet/internal/session"
	"dotfleet/internal/testutils"
	"dotfleet/internal/transport"
)

type MonitorTestSuite struct {
	suite.Suite

	ctx   context.Context
	store *testutils.MemStore
	radio *testutils.FakeRadio
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func (suite *MonitorTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.store = testutils.NewMemStore()
	suite.radio = &testutils.FakeRadio{}
}

func fastScanOptions() *discovery.Options {
	return &discovery.Options{
		ScanDuration:      50 * time.Millisecond,
		ConnectRetryDelay: time.Millisecond,
	}
}

// newMonitor builds a monitor over fake transports: each pair shares a device
// ID so identification matches them.
func (suite *MonitorTestSuite) newMonitor(bts []transport.BluetoothHandle, usbs []transport.USBHandle, onStatus func(Status)) *Monitor {
	scanner := discovery.NewScanner(
		&testutils.FakeUSBProvider{Handles: usbs},
		&testutils.FakeBluetoothProvider{Handles: bts},
		fastScanOptions(),
		testutils.QuietLogger(),
	)
	return NewMonitor(Config{
		Scanner:        scanner,
		Radio:          suite.radio,
		Store:          suite.store,
		DataDir:        suite.T().TempDir(),
		PollInterval:   time.Millisecond,
		SessionOptions: &session.Options{OpenRetries: 2, RetryBackoff: time.Millisecond},
		OnStatusChange: onStatus,
	}, testutils.QuietLogger())
}

func (suite *MonitorTestSuite) TestBootstrapHappyPath() {
	// GOAL: Verify the full state machine: radio off → USB → radio on →
	// scan → identify → sessions
	//
	// TEST SCENARIO: Two matched pairs → two sessions, states visited in
	// order, radio toggled off then on

	var visited []Status
	m := suite.newMonitor(
		[]transport.BluetoothHandle{
			testutils.NewFakeBluetooth("d1").WithTagName("LEFT_ANKLE"),
			testutils.NewFakeBluetooth("d2").WithTagName("RIGHT_ANKLE"),
		},
		[]transport.USBHandle{
			testutils.NewFakeUSB("d1"),
			testutils.NewFakeUSB("d2"),
		},
		func(s Status) { visited = append(visited, s) },
	)

	suite.Require().NoError(m.Bootstrap(suite.ctx, nil))

	suite.Assert().Equal(StatusConnected, m.Status())
	suite.Assert().Equal([]Status{
		StatusConnectingUSB,
		StatusConnectingBluetooth,
		StatusIdentifyingDevices,
		StatusConnected,
	}, visited, "states MUST be visited in order")

	suite.Assert().Equal([]bool{false, true}, suite.radio.Toggles, "radio MUST go off for USB and back on for Bluetooth")

	sessions := m.Sessions()
	suite.Require().Len(sessions, 2)
	for _, s := range sessions {
		suite.Assert().True(s.IsPlugged(), "bootstrap MUST leave every session plugged")
	}

	s, ok := m.SessionByID("d2")
	suite.Require().True(ok)
	suite.Assert().Equal("RIGHT_ANKLE", s.TagName())

	devices, err := suite.store.Devices(suite.ctx)
	suite.Require().NoError(err)
	suite.Assert().Len(devices, 2, "new dots MUST be registered")
}

func (suite *MonitorTestSuite) TestBootstrapMissingUSBCounterpart() {
	// GOAL: Verify a Bluetooth-only dot aborts with MissingSensorsError
	// naming its tag, leaving zero sessions
	//
	// TEST SCENARIO: Two BT dots, one USB link → MissingSensorsError with
	// the unmatched tag → retry with the same mix reproduces the same error

	bts := []transport.BluetoothHandle{
		testutils.NewFakeBluetooth("d1").WithTagName("LEFT_ANKLE"),
		testutils.NewFakeBluetooth("d2").WithTagName("RIGHT_ANKLE"),
	}
	usbs := []transport.USBHandle{testutils.NewFakeUSB("d1")}
	m := suite.newMonitor(bts, usbs, nil)

	err := m.Bootstrap(suite.ctx, nil)
	suite.Require().Error(err)

	var missing *MissingSensorsError
	suite.Require().ErrorAs(err, &missing)
	suite.Assert().Equal([]string{"RIGHT_ANKLE"}, missing.Names, "error MUST name the unmatched sensor")
	suite.Assert().Empty(m.Sessions(), "a failed bootstrap MUST leave zero sessions")
	suite.Assert().Equal(StatusDisconnected, m.Status())

	suite.Run("retry with the same mix is idempotent", func() {
		err := m.Bootstrap(suite.ctx, nil)
		suite.Require().Error(err)

		var again *MissingSensorsError
		suite.Require().ErrorAs(err, &again)
		suite.Assert().Equal(missing.Names, again.Names, "the retry MUST report the same names")
		suite.Assert().Empty(m.Sessions())
	})
}

func (suite *MonitorTestSuite) TestBootstrapRadioFailure() {
	suite.radio.Err = &radioStub{}
	m := suite.newMonitor(nil, nil, nil)

	err := m.Bootstrap(suite.ctx, nil)
	suite.Require().Error(err)
	suite.Assert().Equal(StatusDisconnected, m.Status())
}

type radioStub struct{}

func (e *radioStub) Error() string { return "rfkill missing" }

func (suite *MonitorTestSuite) TestBootstrapHardwareErrorWrapsScan() {
	scanner := discovery.NewScanner(
		&testutils.FakeUSBProvider{},
		&testutils.FakeBluetoothProvider{EventErr: &radioStub{}},
		fastScanOptions(),
		testutils.QuietLogger(),
	)
	m := NewMonitor(Config{
		Scanner: scanner,
		Radio:   suite.radio,
		Store:   suite.store,
		DataDir: suite.T().TempDir(),
	}, testutils.QuietLogger())

	err := m.Bootstrap(suite.ctx, nil)
	suite.Require().Error(err)

	var hw *HardwareError
	suite.Assert().ErrorAs(err, &hw, "scan failure MUST surface as *HardwareError")
}

// fleetFakes keeps the transport fakes reachable for poking charging state
// and flash contents mid-test.
type fleetFakes struct {
	bt  map[string]*testutils.FakeBluetoothHandle
	usb map[string]*testutils.FakeUSBHandle
}

// bootstrapPair brings up a two-dot fleet on an empty flash.
func (suite *MonitorTestSuite) bootstrapPair() (*Monitor, *fleetFakes) {
	fakes := &fleetFakes{
		bt: map[string]*testutils.FakeBluetoothHandle{
			"d1": testutils.NewFakeBluetooth("d1").WithTagName("LEFT_ANKLE").WithBattery(90, true),
			"d2": testutils.NewFakeBluetooth("d2").WithTagName("RIGHT_ANKLE").WithBattery(85, true),
		},
		usb: map[string]*testutils.FakeUSBHandle{
			"d1": testutils.NewFakeUSB("d1"),
			"d2": testutils.NewFakeUSB("d2"),
		},
	}
	m := suite.newMonitor(
		[]transport.BluetoothHandle{fakes.bt["d1"], fakes.bt["d2"]},
		[]transport.USBHandle{fakes.usb["d1"], fakes.usb["d2"]},
		nil,
	)
	suite.Require().NoError(m.Bootstrap(suite.ctx, nil))
	return m, fakes
}

func (suite *MonitorTestSuite) TestPollDispatchesUnplug() {
	// GOAL: Verify one tick classifies a session as unplugged exactly once,
	// and the snapshot converges to the charging set
	//
	// TEST SCENARIO: d1 leaves the dock → one unplug callback → further
	// ticks without change stay silent

	m, fakes := suite.bootstrapPair()

	var plugged, unplugged []string
	onPlugged := func(s *session.DeviceSession) { plugged = append(plugged, s.ID()) }
	onUnplugged := func(s *session.DeviceSession) { unplugged = append(unplugged, s.ID()) }

	fakes.bt["d1"].SetCharging(false)
	m.pollOnce(onPlugged, onUnplugged)

	suite.Assert().Equal([]string{"d1"}, unplugged, "exactly one unplug MUST fire")
	suite.Assert().Empty(plugged)

	s, _ := m.SessionByID("d1")
	suite.Assert().False(s.IsPlugged(), "unplug MUST close the USB link")

	// Steady state: repeated ticks with no transition stay silent.
	m.pollOnce(onPlugged, onUnplugged)
	m.pollOnce(onPlugged, onUnplugged)
	suite.Assert().Equal([]string{"d1"}, unplugged)
	suite.Assert().Empty(plugged)

	suite.Assert().Equal(map[string]struct{}{"d2": {}}, m.prevPlugged,
		"snapshot MUST equal the current charging set")
}

func (suite *MonitorTestSuite) TestPollRecordingDotSkipsUnplugCallback() {
	// A recording dot leaving the dock is the expected workflow, not an
	// event: the callback fires only for idle dots.

	m, fakes := suite.bootstrapPair()
	s, _ := m.SessionByID("d1")
	suite.Require().True(s.StartRecording())

	var unplugged []string
	fakes.bt["d1"].SetCharging(false)
	m.pollOnce(nil, func(s *session.DeviceSession) { unplugged = append(unplugged, s.ID()) })

	suite.Assert().Empty(unplugged, "recording dots MUST NOT trigger the unplug callback")
	suite.Assert().False(s.IsPlugged())
}

func (suite *MonitorTestSuite) TestPollDispatchesReplugWithWork() {
	// GOAL: Verify replugging fires the plugged callback only when there is
	// work: an in-flight recording or pending data

	m, fakes := suite.bootstrapPair()
	s, _ := m.SessionByID("d1")
	suite.Require().True(s.StartRecording())

	fakes.bt["d1"].SetCharging(false)
	m.pollOnce(nil, nil)
	suite.Require().False(s.IsPlugged())

	// The recording lands on flash while the dot is away from the dock.
	fakes.usb["d1"].WithRecording(time.Now().UTC(), 500)

	var plugged []string
	fakes.bt["d1"].SetCharging(true)
	m.pollOnce(func(s *session.DeviceSession) { plugged = append(plugged, s.ID()) }, nil)

	suite.Assert().Equal([]string{"d1"}, plugged, "replug with recorded data MUST fire the callback")
	suite.Assert().True(s.IsPlugged())

	// Same tick never classifies a session both ways.
	suite.Assert().Equal(map[string]struct{}{"d1": {}, "d2": {}}, m.prevPlugged)
}

func (suite *MonitorTestSuite) TestPollIdleReplugStaysSilent() {
	m, fakes := suite.bootstrapPair()
	s, _ := m.SessionByID("d1")

	fakes.bt["d1"].SetCharging(false)
	m.pollOnce(nil, nil)

	var plugged []string
	fakes.bt["d1"].SetCharging(true)
	m.pollOnce(func(s *session.DeviceSession) { plugged = append(plugged, s.ID()) }, nil)

	suite.Assert().Empty(plugged, "an idle dot with no pending data MUST replug silently")
	suite.Assert().True(s.IsPlugged())
}

func (suite *MonitorTestSuite) TestPollFailedReopenRetriesNextTick() {
	// GOAL: Verify a failed USB reopen leaves the dot out of the snapshot so
	// the next tick tries again

	m, fakes := suite.bootstrapPair()
	s, _ := m.SessionByID("d1")

	fakes.bt["d1"].SetCharging(false)
	m.pollOnce(nil, nil)
	suite.Require().False(s.IsPlugged())

	// Make the port refuse both attempts of the first reopen.
	fakes.usb["d1"].WithConnectFailures(2)
	fakes.bt["d1"].SetCharging(true)
	m.pollOnce(nil, nil)
	suite.Assert().False(s.IsPlugged(), "reopen MUST fail this tick")
	_, inSnapshot := m.prevPlugged["d1"]
	suite.Assert().False(inSnapshot, "failed reopen MUST stay out of the snapshot")

	m.pollOnce(nil, nil)
	suite.Assert().True(s.IsPlugged(), "next tick MUST retry and succeed")
}

func (suite *MonitorTestSuite) TestEstimateFleetExportSeconds() {
	// Sensors export in parallel; the fleet estimate is the slowest member.

	m, fakes := suite.bootstrapPair()
	fakes.usb["d1"].
		WithRecording(time.Now().UTC(), 237568).
		WithRecording(time.Now().UTC(), 475136)
	fakes.usb["d2"].
		WithRecording(time.Now().UTC(), 237568)

	suite.Assert().InDelta(1.4, m.EstimateFleetExportSeconds(), 1e-9)
}

func (suite *MonitorTestSuite) TestStartMonitoringRunsOnce() {
	m, _ := suite.bootstrapPair()

	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()

	m.StartMonitoring(ctx, nil, nil)
	suite.Assert().Equal(StatusMonitoringStarted, m.Status())

	// Second call is a no-op; the status callback would have fired twice
	// otherwise, and the once guard keeps a single polling goroutine.
	m.StartMonitoring(ctx, nil, nil)
	suite.Assert().Equal(StatusMonitoringStarted, m.Status())
}
