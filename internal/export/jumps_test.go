package export

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"dotfleet/internal/classify"
)

type JumpConversionTestSuite struct {
	suite.Suite
}

func TestJumpConversionTestSuite(t *testing.T) {
	suite.Run(t, new(JumpConversionTestSuite))
}

func (suite *JumpConversionTestSuite) TestEdgeRotationRounding() {
	// GOAL: Verify the type-dependent rotation corrections for edge jumps
	//
	// TEST SCENARIO: Raw estimates at the known hardware undershoot →
	// corrected whole rotation counts

	cases := []struct {
		name string
		typ  int
		raw  float64
		want float64
	}{
		{"single under two", 0, 1.1, 1},
		{"boundary below two rounds up", 2, 1.85, 2},
		{"double and above uses small correction", 4, 2.2, 3},
		{"triple estimate", 1, 2.9, 3},
	}

	for _, tc := range cases {
		suite.Run(tc.name, func() {
			records := convertJumps([]classify.Jump{{Type: tc.typ, Rotations: tc.raw}})
			suite.Require().Len(records, 1)
			suite.Assert().Equal(tc.want, records[0].Rotations)
		})
	}
}

func (suite *JumpConversionTestSuite) TestAxelRotationRounding() {
	// The axel takes off forward and lands backward, so it always carries the
	// extra half rotation.

	records := convertJumps([]classify.Jump{{Type: 5, Rotations: 0.9}})
	suite.Require().Len(records, 1)
	suite.Assert().Equal(1.5, records[0].Rotations, "single axel MUST round to 1.5")

	records = convertJumps([]classify.Jump{{Type: 5, Rotations: 2.1}})
	suite.Require().Len(records, 1)
	suite.Assert().Equal(2.5, records[0].Rotations, "double axel MUST round to 2.5")
}

func (suite *JumpConversionTestSuite) TestLowConfidenceBucket() {
	// GOAL: Verify low-estimate jumps survive only when nothing confident
	// exists in the recording

	suite.Run("uncertain jumps kept when alone", func() {
		records := convertJumps([]classify.Jump{
			{Type: 0, Rotations: 0.4, OffsetMs: 61_000},
			{Type: 5, Rotations: 0.7},
		})
		suite.Require().Len(records, 2, "low-confidence jumps MUST be kept when no confident jump exists")
		suite.Assert().Equal(0.0, records[0].Rotations, "low-confidence rotations MUST be zeroed")
		suite.Assert().Equal("01:01", records[0].TimeMark)
	})

	suite.Run("uncertain jumps dropped next to a confident one", func() {
		records := convertJumps([]classify.Jump{
			{Type: 0, Rotations: 0.4},
			{Type: 3, Rotations: 1.4, Success: true},
		})
		suite.Require().Len(records, 1, "confident jumps MUST displace the low-confidence bucket")
		suite.Assert().Equal("FLIP", records[0].Type)
		suite.Assert().Equal(2.0, records[0].Rotations)
	})
}

func (suite *JumpConversionTestSuite) TestTypeNames() {
	records := convertJumps([]classify.Jump{
		{Type: 4, Rotations: 1.0},
		{Type: 9, Rotations: 1.0},
	})
	suite.Require().Len(records, 1)
	suite.Assert().Equal("LUTZ", records[0].Type)

	records = convertJumps([]classify.Jump{{Type: 9, Rotations: 1.0}})
	suite.Require().Len(records, 1)
	suite.Assert().Equal("UNKNOWN", records[0].Type, "out-of-range codes MUST map to UNKNOWN")
}
