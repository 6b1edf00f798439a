package transport

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type EventQueueTestSuite struct {
	suite.Suite
}

func TestEventQueueTestSuite(t *testing.T) {
	suite.Run(t, new(EventQueueTestSuite))
}

func (suite *EventQueueTestSuite) TestOverwriteOldest() {
	// GOAL: Verify a full queue discards the oldest event, never blocks
	//
	// TEST SCENARIO: Push capacity+2 events → oldest two gone → newest kept

	q := NewEventQueue(3)
	for i := 0; i < 5; i++ {
		q.Push(Event{Kind: EventBatteryUpdated, BatteryLevel: i})
	}

	suite.Assert().Equal(3, q.Len(), "queue MUST hold exactly its capacity")
	suite.Assert().Equal(uint64(2), q.Dropped(), "two events MUST have been discarded")

	ev := <-q.C()
	suite.Assert().Equal(2, ev.BatteryLevel, "oldest surviving event MUST be the third pushed")
}

func (suite *EventQueueTestSuite) TestDrainAfterClose() {
	// GOAL: Verify buffered events stay readable after Close

	q := NewEventQueue(4)
	q.Push(Event{Kind: EventExportDone})
	q.Close()

	ev, open := <-q.C()
	suite.Assert().True(open, "buffered event MUST survive close")
	suite.Assert().Equal(EventExportDone, ev.Kind)

	_, open = <-q.C()
	suite.Assert().False(open, "channel MUST be closed once drained")
}

func (suite *EventQueueTestSuite) TestZeroCapacityPanics() {
	suite.Assert().Panics(func() { NewEventQueue(0) }, "zero capacity MUST panic")
}
