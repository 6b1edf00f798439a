package classify

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ClassifyTestSuite struct {
	suite.Suite
}

func TestClassifyTestSuite(t *testing.T) {
	suite.Run(t, new(ClassifyTestSuite))
}

func (suite *ClassifyTestSuite) TestWriteCSV() {
	// GOAL: Verify header plus rows land as CSV, integer-valued columns
	// without a decimal point

	table := &SampleTable{
		Columns: []string{"PacketCounter", "SampleTimeFine", "Euler_X"},
		Rows: [][]float64{
			{1, 0, -12.25},
			{2, 8333, 0},
		},
	}

	var buf bytes.Buffer
	suite.Require().NoError(table.WriteCSV(&buf))

	want := "PacketCounter,SampleTimeFine,Euler_X\n1,0,-12.25\n2,8333,0\n"
	suite.Assert().Equal(want, buf.String())
}

func (suite *ClassifyTestSuite) TestWriteCSVRowWidthMismatch() {
	table := &SampleTable{
		Columns: []string{"A", "B"},
		Rows:    [][]float64{{1}},
	}
	suite.Assert().Error(table.WriteCSV(io.Discard), "short row MUST be rejected")
}

func (suite *ClassifyTestSuite) TestExecClassifier() {
	// GOAL: Verify the external-process contract: CSV in, JSON out

	suite.Run("empty command rejected", func() {
		_, err := NewExecClassifier(nil, nil)
		suite.Assert().Error(err)
	})

	suite.Run("parses jump list from stdout", func() {
		c, err := NewExecClassifier([]string{"sh", "-c",
			`cat > /dev/null; echo '[{"offset_ms":67000,"type":5,"success":true,"rotations":1.5,"rotation_speed":412.5,"length":0.42}]'`,
		}, nil)
		suite.Require().NoError(err)

		jumps, err := c.Classify(context.Background(), &SampleTable{Columns: []string{"A"}, Rows: [][]float64{{1}}})
		suite.Require().NoError(err)
		suite.Require().Len(jumps, 1)
		suite.Assert().Equal(67000, jumps[0].OffsetMs)
		suite.Assert().Equal(5, jumps[0].Type)
		suite.Assert().True(jumps[0].Success)
		suite.Assert().Equal(1.5, jumps[0].Rotations)
	})

	suite.Run("stderr surfaces in the error", func() {
		c, err := NewExecClassifier([]string{"sh", "-c", "echo 'model not found' >&2; exit 3"}, nil)
		suite.Require().NoError(err)

		_, err = c.Classify(context.Background(), &SampleTable{})
		suite.Require().Error(err)
		suite.Assert().Contains(err.Error(), "model not found", "stderr MUST be part of the error")
	})

	suite.Run("garbage stdout rejected", func() {
		c, err := NewExecClassifier([]string{"sh", "-c", "cat > /dev/null; echo not-json"}, nil)
		suite.Require().NoError(err)

		_, err = c.Classify(context.Background(), &SampleTable{})
		suite.Assert().Error(err)
	})
}
