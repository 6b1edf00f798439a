package fleet

// Status is the fleet connection state. States are strictly ordered; the
// bootstrap never branches back except by failing and being retried from the
// start.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnectingUSB
	StatusConnectingBluetooth
	StatusIdentifyingDevices
	StatusConnected
	StatusMonitoringStarted
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnectingUSB:
		return "connecting_usb"
	case StatusConnectingBluetooth:
		return "connecting_bluetooth"
	case StatusIdentifyingDevices:
		return "identifying_devices"
	case StatusConnected:
		return "connected"
	case StatusMonitoringStarted:
		return "monitoring_started"
	default:
		return "unknown"
	}
}
