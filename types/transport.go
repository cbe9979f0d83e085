package types

import "time"

// HandshakePhase tracks how far the Bluetooth enable/discoverable handshake got.
type HandshakePhase string

const (
	PhaseNeedsEnable       HandshakePhase = "needsEnable"
	PhaseNeedsDiscoverable HandshakePhase = "needsDiscoverable"
	PhaseStarting          HandshakePhase = "starting"
	PhaseServing           HandshakePhase = "serving"
)

// DiscoverableMode mirrors the adapter scan modes a platform reports.
type DiscoverableMode int

const (
	ScanModeNone DiscoverableMode = iota
	ScanModeConnectable
	ScanModeConnectableDiscoverable
)

// RequestKind tags an asynchronous platform permission request.
type RequestKind string

const (
	RequestBluetoothEnable       RequestKind = "bluetoothEnable"
	RequestBluetoothDiscoverable RequestKind = "bluetoothDiscoverable"
)

// PlatformRequest is an outstanding permission request awaiting a result event.
type PlatformRequest struct {
	ID   string      `json:"id"`
	Kind RequestKind `json:"kind"`
}

// PlatformResult is the single event type for asynchronous platform replies.
// An empty RequestID matches the pending request of the same kind.
type PlatformResult struct {
	RequestID string      `json:"requestId,omitempty"`
	Kind      RequestKind `json:"kind"`
	Granted   bool        `json:"granted"`
}

// TransportView is a point-in-time read of the coordinator's transports.
type TransportView struct {
	NetworkArmed     bool           `json:"networkArmed"`
	IdleDeadline     time.Time      `json:"idleDeadline,omitzero"`
	BluetoothArmed   bool           `json:"bluetoothArmed"`
	BluetoothPhase   HandshakePhase `json:"bluetoothPhase"`
	NearFieldArmed   bool           `json:"nearFieldArmed"`
	NearFieldPayload string         `json:"nearFieldPayload,omitempty"`
}
