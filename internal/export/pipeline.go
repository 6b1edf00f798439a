// Package export drains stored recordings from a dot's USB link, re-derives
// elapsed time from the wrap-prone hardware sample counter, and hands the
// resulting sample batches to the classification and persistence
// collaborators.
//
// Export is deliberately not transactional: recordings already persisted stay
// persisted when a later step fails. Intermittent hardware faults make
// partial success the expected outcome.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"dotfleet/internal/classify"
	"dotfleet/internal/store"
	"dotfleet/internal/transport"
)

// counterModulus is the wrap point of the hardware sample-time counter.
const counterModulus = 1 << 32

// completionPollInterval is how often the pipeline checks for the hardware
// export-done signal.
const completionPollInterval = 100 * time.Millisecond

// ErrEraseFailed reports exhausting the retry budget while erasing the dot's
// flash after a drain. The recordings already exported are not undone.
var ErrEraseFailed = errors.New("erase flash failed after retries")

// Config wires one pipeline run.
type Config struct {
	DeviceID   string
	USB        transport.USBHandle
	Store      store.Store
	Classifier classify.Classifier

	// DataDir receives the normalized sample tables as CSV.
	DataDir string

	IncludeResearchFields bool

	// SyncOffset is the running cross-recording synchronization mark, in
	// hardware counter ticks. It is re-based after each recording.
	SyncOffset uint64

	EraseRetries int
	RetryBackoff time.Duration
}

// Result reports how far a run got. Valid even when Run returns an error.
type Result struct {
	// Drained counts recordings fully pushed through the pipeline.
	Drained int
	// SyncOffset is the re-based synchronization mark.
	SyncOffset uint64
}

// Pipeline drains one session's recordings. One run at a time per device.
type Pipeline struct {
	cfg    Config
	logger *logrus.Logger
}

// New builds a pipeline for a single export run.
func New(cfg Config, logger *logrus.Logger) *Pipeline {
	if cfg.EraseRetries <= 0 {
		cfg.EraseRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// Run drains every stored recording in ascending index order, then erases the
// dot's flash. It blocks until complete.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	result := Result{SyncOffset: p.cfg.SyncOffset}

	fields := append([]transport.ExportField(nil), transport.CoreExportFields...)
	if p.cfg.IncludeResearchFields {
		fields = append(fields, transport.ResearchExportFields...)
	}
	if err := p.cfg.USB.SelectExportFields(fields); err != nil {
		return result, fmt.Errorf("select export fields: %w", err)
	}

	count := p.cfg.USB.RecordingCount()
	p.logger.WithFields(logrus.Fields{
		"device":     p.cfg.DeviceID,
		"recordings": count,
	}).Info("Exporting recordings")

	// Recording indexes are 1-based on the hardware.
	for index := 1; index <= count; index++ {
		if p.exportRecording(ctx, index, &result) {
			result.Drained++
		}
	}

	erased := false
	for attempt := 0; attempt < p.cfg.EraseRetries; attempt++ {
		if p.cfg.USB.EraseFlash() {
			erased = true
			break
		}
		time.Sleep(p.cfg.RetryBackoff)
	}
	if !erased {
		p.logger.WithField("device", p.cfg.DeviceID).Error("Could not erase flash after export")
		return result, ErrEraseFailed
	}

	p.logger.WithFields(logrus.Fields{
		"device":  p.cfg.DeviceID,
		"drained": result.Drained,
	}).Info("Export finished")
	return result, nil
}

// exportRecording pushes one recording through the pipeline. It reports
// whether the recording was fully drained; one bad recording never aborts the
// rest.
func (p *Pipeline) exportRecording(ctx context.Context, index int, result *Result) bool {
	log := p.logger.WithFields(logrus.Fields{
		"device":    p.cfg.DeviceID,
		"recording": index,
	})

	info, err := p.cfg.USB.RecordingInfo(index)
	if err != nil {
		log.WithError(err).Warn("Could not read recording metadata, skipping")
		return false
	}

	ref, ok, err := p.cfg.Store.PendingRecordingRef(ctx, p.cfg.DeviceID)
	if err != nil {
		log.WithError(err).Error("Could not look up pending recording reference, skipping")
		return false
	}
	if !ok {
		// No destination for this data. Logged, not retried: there is no
		// reference to retry against.
		log.Warn("No pending recording reference, data lost")
		return false
	}

	if err := p.cfg.Store.SetRecordingStartTime(ctx, ref, info.StartUTC); err != nil {
		log.WithError(err).Error("Could not set recording start time, skipping")
		return false
	}

	if err := p.cfg.USB.StartExportRecording(index); err != nil {
		log.WithError(err).Error("Could not start hardware export, skipping")
		return false
	}

	samples := p.collectSamples()
	log.WithField("samples", len(samples)).Info("Hardware export finished")
	if len(samples) == 0 {
		log.Warn("Recording produced no samples")
	}

	table := p.buildTable(samples, &result.SyncOffset)

	if err := p.writeCSV(table, info.StartUTC, ref, result.SyncOffset); err != nil {
		log.WithError(err).Error("Could not write sample table")
	}

	p.classifyAndPersist(ctx, table, ref, log)

	if err := p.cfg.Store.ReleasePendingRecordingRef(ctx, p.cfg.DeviceID, ref); err != nil {
		log.WithError(err).Error("Could not release pending recording reference")
	}

	return true
}

// collectSamples drains the USB event queue until the hardware signals export
// completion, polling at a fixed interval.
func (p *Pipeline) collectSamples() []transport.Sample {
	var samples []transport.Sample
	for {
		select {
		case ev, open := <-p.cfg.USB.Events():
			if !open {
				return samples
			}
			switch ev.Kind {
			case transport.EventRecordedData:
				if ev.Sample != nil {
					samples = append(samples, *ev.Sample)
				}
			case transport.EventExportDone:
				return samples
			}
		default:
			time.Sleep(completionPollInterval)
		}
	}
}

// buildTable normalizes the hardware sample counter and lays the samples out
// as a column-named table.
//
// The counter is a fixed-width value that wraps at 2^32: a negative delta
// against the first sample means a wrap happened and the modulus is added
// back. The running synchronization offset is re-based against the same first
// sample, floored at zero.
func (p *Pipeline) buildTable(samples []transport.Sample, syncOffset *uint64) *classify.SampleTable {
	table := &classify.SampleTable{Columns: p.columns()}
	if len(samples) == 0 {
		return table
	}

	first := samples[0].SampleTimeFine
	for _, s := range samples {
		delta := int64(s.SampleTimeFine) - int64(first)
		if delta < 0 {
			delta += counterModulus
		}

		row := []float64{float64(s.PacketCounter), float64(delta),
			s.EulerX, s.EulerY, s.EulerZ}
		if p.cfg.IncludeResearchFields {
			row = append(row, s.QuatW, s.QuatX, s.QuatY, s.QuatZ)
		}
		row = append(row, s.AccX, s.AccY, s.AccZ, s.GyrX, s.GyrY, s.GyrZ)
		if p.cfg.IncludeResearchFields {
			row = append(row, s.MagX, s.MagY, s.MagZ)
		}
		table.Rows = append(table.Rows, row)
	}

	if *syncOffset > first {
		*syncOffset -= first
	} else {
		*syncOffset = 0
	}

	return table
}

func (p *Pipeline) columns() []string {
	cols := []string{"PacketCounter", "SampleTimeFine", "Euler_X", "Euler_Y", "Euler_Z"}
	if p.cfg.IncludeResearchFields {
		cols = append(cols, "Quat_W", "Quat_X", "Quat_Y", "Quat_Z")
	}
	cols = append(cols, "Acc_X", "Acc_Y", "Acc_Z", "Gyr_X", "Gyr_Y", "Gyr_Z")
	if p.cfg.IncludeResearchFields {
		cols = append(cols, "Mag_X", "Mag_Y", "Mag_Z")
	}
	return cols
}

// writeCSV persists the normalized table under
// <data>/raw/<date>/<syncOffset>_<ref>.csv.
func (p *Pipeline) writeCSV(table *classify.SampleTable, start time.Time, ref string, syncOffset uint64) error {
	dir := filepath.Join(p.cfg.DataDir, "raw", start.Format("2006_01_02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d_%s.csv", syncOffset, ref))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := table.WriteCSV(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	p.logger.WithField("path", path).Info("Sample table written")
	return nil
}

// classifyAndPersist runs the classification collaborator and appends the
// resulting jump records. Classification failures are logged, never fatal:
// the recording's reference is still released by the caller.
func (p *Pipeline) classifyAndPersist(ctx context.Context, table *classify.SampleTable, ref string, log *logrus.Entry) {
	if p.cfg.Classifier == nil || len(table.Rows) == 0 {
		return
	}

	jumps, err := p.cfg.Classifier.Classify(ctx, table)
	if err != nil {
		log.WithError(err).Error("Classification failed")
		return
	}

	records := convertJumps(jumps)
	if len(records) == 0 {
		return
	}
	if err := p.cfg.Store.AppendJumpRecords(ctx, ref, records); err != nil {
		log.WithError(err).Error("Could not append jump records")
		return
	}
	log.WithField("jumps", len(records)).Info("Jump records persisted")
}
