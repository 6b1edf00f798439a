package dotble

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"dotfleet/internal/transport"
)

type HandleTestSuite struct {
	suite.Suite
}

func TestHandleTestSuite(t *testing.T) {
	suite.Run(t, new(HandleTestSuite))
}

func (suite *HandleTestSuite) TestTagFromAdvertisedName() {
	// GOAL: Verify the tag is the advertised name minus the product prefix

	cases := map[string]string{
		"Movella DOT A3": "A3",
		"Xsens DOT B1":   "B1",
		"SomethingElse":  "SomethingElse",
	}
	for name, want := range cases {
		suite.Assert().Equal(want, tagFromAdvertisedName(name))
	}
}

func (suite *HandleTestSuite) TestIsDotName() {
	suite.Assert().True(isDotName("Movella DOT LEFT_WRIST"))
	suite.Assert().True(isDotName("Xsens DOT 7"))
	suite.Assert().False(isDotName("FitBit Charge"))
	suite.Assert().False(isDotName(""))
}

func (suite *HandleTestSuite) TestBatteryNotifyUpdatesStateAndQueues() {
	h := newHandle(nil, "AA:BB:CC:00:00:01", "Movella DOT A3", logrus.New())

	h.onBatteryNotify([]byte{87, 1})

	suite.Assert().Equal(87, h.BatteryLevel())
	suite.Assert().True(h.BatteryCharging())

	ev := <-h.Events()
	suite.Require().Equal(transport.EventBatteryUpdated, ev.Kind)
	suite.Assert().Equal(87, ev.BatteryLevel)
	suite.Assert().True(ev.Charging)

	// A short notification MUST be ignored.
	h.onBatteryNotify([]byte{42})
	suite.Assert().Equal(87, h.BatteryLevel())
}

func (suite *HandleTestSuite) TestButtonNotifyCarriesTimestamp() {
	h := newHandle(nil, "AA:BB:CC:00:00:01", "Movella DOT A3", logrus.New())

	// Unrelated opcode produces nothing.
	h.onMessageNotify([]byte{0x01, 0, 0, 0, 0})
	suite.Assert().Empty(len(h.Events()), "non-button messages MUST NOT queue events")

	// 0x10 button message, little-endian timestamp 0x01020304.
	h.onMessageNotify([]byte{0x10, 0x04, 0x03, 0x02, 0x01})
	ev := <-h.Events()
	suite.Require().Equal(transport.EventButtonPressed, ev.Kind)
	suite.Assert().Equal(uint64(0x01020304), ev.ButtonTimestamp)
}
