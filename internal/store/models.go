package store

// Device is a registered dot sensor.
type Device struct {
	ID      string
	Address string
	TagName string
}

// JumpRecord is one classified jump attached to a recording.
type JumpRecord struct {
	Type      string
	Rotations float64
	Success   bool
	// TimeMark is the mm:ss offset of the jump within the recording.
	TimeMark string
	MaxSpeed float64
	Length   float64
}
