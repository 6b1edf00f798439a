// Package classify hands exported sample tables to the jump-detection
// pipeline, which runs as a separate offline process.
package classify

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Jump is one detected jump as reported by the classifier.
type Jump struct {
	// OffsetMs is the jump's position within the recording.
	OffsetMs int `json:"offset_ms"`
	// Type is the classifier's jump-type code.
	Type int `json:"type"`
	// Success reports whether the jump was landed.
	Success bool `json:"success"`

	Rotations     float64 `json:"rotations"`
	RotationSpeed float64 `json:"rotation_speed"`
	Length        float64 `json:"length"`
}

// SampleTable is a column-named table of exported samples.
type SampleTable struct {
	Columns []string
	Rows    [][]float64
}

// WriteCSV renders the table with a header row. Integer-valued columns keep
// their integer formatting.
func (t *SampleTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row has %d values, want %d", len(row), len(t.Columns))
		}
		for i, v := range row {
			if v == float64(int64(v)) {
				record[i] = strconv.FormatInt(int64(v), 10)
			} else {
				record[i] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Classifier is the classification collaborator consumed by the export
// pipeline.
type Classifier interface {
	Classify(ctx context.Context, samples *SampleTable) ([]Jump, error)
}
