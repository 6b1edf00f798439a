package transport

// EventKind discriminates hardware events pushed onto a handle's queue.
type EventKind int

const (
	// EventRecordedData carries one exported sample.
	EventRecordedData EventKind = iota
	// EventExportDone signals that a recording export has finished.
	EventExportDone
	// EventBatteryUpdated carries a battery level / charging report.
	EventBatteryUpdated
	// EventButtonPressed carries the hardware timestamp of a button tap,
	// used as the cross-recording synchronization mark.
	EventButtonPressed
)

func (k EventKind) String() string {
	switch k {
	case EventRecordedData:
		return "recorded_data"
	case EventExportDone:
		return "export_done"
	case EventBatteryUpdated:
		return "battery_updated"
	case EventButtonPressed:
		return "button_pressed"
	default:
		return "unknown"
	}
}

// Sample is one exported data packet. Research columns (quaternion, magnetic
// field) are zero unless they were selected for the export.
type Sample struct {
	PacketCounter  int
	SampleTimeFine uint64

	EulerX, EulerY, EulerZ float64
	AccX, AccY, AccZ       float64
	GyrX, GyrY, GyrZ       float64

	QuatW, QuatX, QuatY, QuatZ float64
	MagX, MagY, MagZ           float64
}

// Event is one hardware notification. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind EventKind

	Sample *Sample // EventRecordedData

	BatteryLevel int  // EventBatteryUpdated
	Charging     bool // EventBatteryUpdated

	ButtonTimestamp uint64 // EventButtonPressed
}
