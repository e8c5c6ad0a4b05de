// Package trust implements the Trust store (spec.md §4.2) and Trust manager
// (spec.md §4.3): the set of trusted devices, the pending-request ledger,
// and the none→pending→approved|rejected|expired→removed state machine.
package trust

import "time"

// TrustedDevice is a peer promoted to trusted by a completed pairing.
type TrustedDevice struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	PublicKey  []byte    `json:"publicKey"`
	Multiaddrs []string  `json:"multiaddrs"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeen   time.Time `json:"lastSeen"`
}

// PendingRequest is a verified, not-yet-decided trust-request.
type PendingRequest struct {
	DeviceID   string
	DeviceName string
	PublicKey  []byte
	Multiaddrs []string
	ReceivedAt time.Time
	ExpiresAt  time.Time
}
