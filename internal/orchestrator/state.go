package orchestrator

// State is one of the Replay Orchestrator's lifecycle states (§4.1).
type State int

const (
	// StateIdle is the resting state: no session, no in-flight credential
	// fetch.
	StateIdle State = iota
	// StateObtainingCredential is entered on beginReplay while the Device
	// Registrar's bootstrap call is in flight.
	StateObtainingCredential
	// StateMonitoringNetwork is entered once a credential is held; the
	// orchestrator waits here if wifiRequired is set and the current
	// transport isn't Wi-Fi/Ethernet.
	StateMonitoringNetwork
	// StateRecording is the active session state: all gated recorders are
	// running and telemetry is flowing.
	StateRecording
	// StateFinalizing is entered on endReplay, the duration limit, or host
	// lifecycle teardown; it submits metrics and calls session/end.
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateObtainingCredential:
		return "obtaining_credential"
	case StateMonitoringNetwork:
		return "monitoring_network"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}
