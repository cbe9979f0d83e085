package types

import "slices"

// SessionState is one step of a swap session.
type SessionState string

const (
	StateStart               SessionState = "start"
	StateSelectApps          SessionState = "selectApps"
	StatePreparingRepo       SessionState = "preparingRepo"
	StateJoinNetwork         SessionState = "joinNetwork"
	StateNearFieldOffer      SessionState = "nearFieldOffer"
	StateNetworkQrReady      SessionState = "networkQrReady"
	StateBluetoothDeviceList SessionState = "bluetoothDeviceList"
)

// Selection is a set of application identifiers chosen for sharing.
type Selection map[string]struct{}

// NewSelection builds a selection from ids, dropping blanks and duplicates.
func NewSelection(ids ...string) Selection {
	s := make(Selection, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		s[id] = struct{}{}
	}
	return s
}

// Sorted returns the identifiers in ascending order.
func (s Selection) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Equal reports whether both selections hold the same identifiers.
func (s Selection) Equal(other Selection) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	c := make(Selection, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// SessionSnapshot is the read-only view of a swap session handed to renderers and the API.
type SessionSnapshot struct {
	State                 SessionState     `json:"state"`
	History               []SessionState   `json:"history"`
	SelectedApps          []string         `json:"selectedApps"`
	HasPreparedRepo       bool             `json:"hasPreparedRepo"`
	LastPreparedSelection []string         `json:"lastPreparedSelection"`
	Rebuild               RebuildJobView   `json:"rebuild"`
	LastError             string           `json:"lastError,omitempty"`
	PendingRequest        *PlatformRequest `json:"pendingRequest,omitempty"`
	Transports            TransportView    `json:"transports"`
	SharingURI            string           `json:"sharingUri,omitempty"`
	Closed                bool             `json:"closed"`
}
