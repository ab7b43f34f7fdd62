package orchestrator

// NetworkState describes the host's current network transport, enough for
// the wifiRequired gate in §4.1's MonitoringNetwork state.
type NetworkState struct {
	// Type is one of "wifi", "ethernet", "cellular", or "" for no active
	// network.
	Type string
}

func (n NetworkState) isWifiOrEthernet() bool {
	return n.Type == "wifi" || n.Type == "ethernet"
}

func (n NetworkState) hasActiveNetwork() bool {
	return n.Type != ""
}

// NetworkObserver is the host capability the orchestrator subscribes to
// while in MonitoringNetwork (§4.1, §9).
type NetworkObserver interface {
	Current() NetworkState
	// Subscribe registers onChange for future transitions and returns an
	// unsubscribe func. Implementations must tolerate onChange being
	// called from any goroutine.
	Subscribe(onChange func(NetworkState)) (unsubscribe func())
}
