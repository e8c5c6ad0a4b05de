// Package coreerrors collects the sentinel errors surfaced across the
// clipboard trust and peer networking core. Call sites wrap these with
// fmt.Errorf("...: %w", Err...) so callers can still errors.Is against the
// kind regardless of which component raised it.
package coreerrors

import "errors"

var (
	// ErrInvalidPairingPayload is returned when a QR/text payload does not
	// decode into a valid pairing record.
	ErrInvalidPairingPayload = errors.New("invalid_pairing_payload")

	// ErrNoTarget is returned when address parsing and relay synthesis leave
	// no dialable address for a pairing or restore attempt.
	ErrNoTarget = errors.New("no_target")

	// ErrDialFailed is returned when all direct and relay addresses for a
	// peer have been exhausted without success.
	ErrDialFailed = errors.New("dial_failed")

	// ErrDialTimeout names a single dial attempt exceeding its deadline. No
	// component returns it: an attempt that runs past its deadline counts as
	// a failed attempt, and exhausting all attempts yields ErrDialFailed.
	ErrDialTimeout = errors.New("dial_timeout")

	// ErrNoReservation is returned when a relay has not granted (or has
	// refused) a reservation for the target. Callers may retry with
	// backoff.
	ErrNoReservation = errors.New("no_reservation")

	// ErrPeerNotConnected is returned by send-by-peerId when there is no
	// existing connection to the peer.
	ErrPeerNotConnected = errors.New("peer_not_connected")

	// ErrSignatureInvalid marks a trust-request that failed signature
	// verification. Per spec this is swallowed before it reaches most
	// callers, but the sentinel exists so verification code has a single
	// value to return internally and for tests to assert against.
	ErrSignatureInvalid = errors.New("signature_invalid")

	// ErrMessagingNotStarted names an operation issued on the messaging
	// transport before Start. No component returns it: transport.New starts
	// the node, so a Transport has no unstarted state.
	ErrMessagingNotStarted = errors.New("messaging_not_started")

	// ErrRejected names a pairing attempt answered by a trust-ack with
	// accepted=false. No component returns it: PairWithPeer counts a
	// rejecting ack as a failed attempt and reports ErrDialFailed.
	ErrRejected = errors.New("rejected")
)
