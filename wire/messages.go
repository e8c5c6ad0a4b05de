package wire

import (
	"time"

	"github.com/myelnet/clipmesh/clip"
	"github.com/myelnet/clipmesh/identity"
)

// Message type tags (spec.md §3, §4.4).
const (
	TypeTrustRequest = "trust-request"
	TypeTrustAck     = "trust-ack"
)

// TrustRequest is the signed pairing request sent over
// /clipboard/trust/1.0.0. Sig is the base64 signature over the canonical
// encoding of the message with Sig itself omitted (spec.md §4.4's signing
// domain).
type TrustRequest struct {
	Type    string                  `json:"type"`
	From    string                  `json:"from"`
	To      string                  `json:"to"`
	Payload identity.DeviceIdentity `json:"payload"`
	SentAt  int64                   `json:"sentAt"`
	Sig     string                  `json:"sig,omitempty"`
}

// SigningPayload returns the struct whose canonical encoding is the exact
// byte string signed and verified: the request without Sig.
func (r TrustRequest) SigningPayload() TrustRequest {
	cp := r
	cp.Sig = ""
	return cp
}

// TrustAckPayload carries the accept/reject decision plus the original
// signed request (so the requester can correlate without trusting local
// clocks) and, on acceptance, the responder's own identity.
type TrustAckPayload struct {
	Accepted bool                     `json:"accepted"`
	Request  TrustRequest             `json:"request"`
	Responder *identity.DeviceIdentity `json:"responder,omitempty"`
}

// TrustAck is the pairing response sent over /clipboard/trust/1.0.0.
// Acks are not signed: integrity is inherited from the authenticated
// transport between trusted peers (spec.md §4.4, and the open question
// recorded in DESIGN.md).
type TrustAck struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Payload TrustAckPayload `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// RendezvousAction is the verb of a rendezvous request.
type RendezvousAction string

const (
	RendezvousRegister RendezvousAction = "register"
	RendezvousList     RendezvousAction = "list"
)

// RendezvousRequest is the client->server message on /rendezvous/1.0.0.
type RendezvousRequest struct {
	Action RendezvousAction `json:"action"`
	Topic  string           `json:"topic"`
	Addrs  []string         `json:"addrs,omitempty"`
}

// RendezvousRecord is one (peerId, addrs) entry the server tracks per topic.
type RendezvousRecord struct {
	PeerID   string    `json:"peerId"`
	Addrs    []string  `json:"addrs"`
	LastSeen time.Time `json:"lastSeen"`
}

// RendezvousReply is the server->client response on /rendezvous/1.0.0.
type RendezvousReply struct {
	OK    bool               `json:"ok"`
	Peer  *RendezvousRecord  `json:"peer,omitempty"`
	Peers []RendezvousRecord `json:"peers,omitempty"`
	Error string             `json:"error,omitempty"`
}

// History message type tags. The history messenger implements full-resync
// request/reply only (DESIGN.md Open Question 1); there is no delta or
// incremental sync shape.
const (
	TypeHistoryRequest = "history-request"
	TypeHistoryReply   = "history-reply"
)

// HistoryRequest asks the responder for its complete clip history.
type HistoryRequest struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	SentAt int64  `json:"sentAt"`
}

// HistoryReply carries the responder's full exported history.
type HistoryReply struct {
	Type   string      `json:"type"`
	From   string      `json:"from"`
	Clips  []clip.Clip `json:"clips"`
	SentAt int64       `json:"sentAt"`
}

// PairingPayload is the base64url-encoded JSON produced by a pairing host
// and decoded by a requester (spec.md §6 "Pairing QR payload"). Unknown
// fields are ignored on decode.
type PairingPayload struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	PublicKey  []byte    `json:"publicKey"`
	Multiaddrs []string  `json:"multiaddrs"`
	CreatedAt  time.Time `json:"createdAt"`
}
