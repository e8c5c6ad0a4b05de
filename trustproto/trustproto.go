// Package trustproto implements signing and verification of clip-trust
// wire messages (spec.md §4.4). The canonical encoding and message shapes
// live in package wire; this package owns the cryptographic half: sign the
// canonical bytes with the sender's private key, verify them against the
// public key carried in the message itself.
package trustproto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/myelnet/clipmesh/coreerrors"
	"github.com/myelnet/clipmesh/identity"
	"github.com/myelnet/clipmesh/wire"
)

// SignTrustRequest signs req (with Sig cleared) using priv and returns a
// copy with Sig populated, base64-standard-encoded per spec.md §4.4.
func SignTrustRequest(req wire.TrustRequest, priv crypto.PrivKey) (wire.TrustRequest, error) {
	signed := req.SigningPayload()
	bytesToSign, err := wire.CanonicalEncode(signed)
	if err != nil {
		return wire.TrustRequest{}, fmt.Errorf("trustproto: canonical encode: %w", err)
	}
	sig, err := priv.Sign(bytesToSign)
	if err != nil {
		return wire.TrustRequest{}, fmt.Errorf("trustproto: sign: %w", err)
	}
	signed.Sig = base64.StdEncoding.EncodeToString(sig)
	return signed, nil
}

// ErrMalformed is returned by VerifyTrustRequest for structural problems distinct from
// a failed cryptographic check (spec.md §4.4 verification rules 1-2).
var ErrMalformed = errors.New("trustproto: malformed trust-request")

// ErrNotForUs is returned when a message's `to` does not match the local
// deviceId (spec.md §4.4 rule 4).
var ErrNotForUs = errors.New("trustproto: message not addressed to this device")

// VerifyTrustRequest checks all four rules spec.md §4.4 requires before a
// trust-request is admitted:
//  1. type is "trust-request"
//  2. from/to non-empty, payload present, sentAt finite (Go's type system
//     already guarantees 2 structurally; only the string-emptiness checks
//     remain meaningful)
//  3. the public key derivable from `from` matches payload.publicKey, and
//     the signature verifies under it
//  4. `to` equals localDeviceID
//
// Any failure returns a non-nil error; callers must treat every non-nil
// error the same way spec.md §7 requires: drop the message, no state
// change, log-and-swallow at the boundary (this function does not log —
// that's the caller's responsibility, since only the caller knows whether
// logging here would be per-message noise).
func VerifyTrustRequest(req wire.TrustRequest, localDeviceID string) error {
	if req.Type != wire.TypeTrustRequest {
		return fmt.Errorf("%w: type %q", ErrMalformed, req.Type)
	}
	if req.From == "" || req.To == "" {
		return fmt.Errorf("%w: missing from/to", ErrMalformed)
	}
	if req.Sig == "" {
		return fmt.Errorf("%w: missing sig", ErrMalformed)
	}
	if req.From != req.Payload.DeviceID {
		return fmt.Errorf("%w: from does not match payload.deviceId", coreerrors.ErrSignatureInvalid)
	}
	pub, err := req.Payload.PubKey()
	if err != nil {
		return fmt.Errorf("%w: unmarshal payload public key: %v", coreerrors.ErrSignatureInvalid, err)
	}
	derived, err := identity.DeriveDeviceID(pub)
	if err != nil {
		return fmt.Errorf("%w: derive id from payload key: %v", coreerrors.ErrSignatureInvalid, err)
	}
	if derived != req.Payload.DeviceID {
		return fmt.Errorf("%w: payload.publicKey does not derive payload.deviceId", coreerrors.ErrSignatureInvalid)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(req.Sig)
	if err != nil {
		return fmt.Errorf("%w: sig not base64: %v", coreerrors.ErrSignatureInvalid, err)
	}
	signingBytes, err := wire.CanonicalEncode(req.SigningPayload())
	if err != nil {
		return fmt.Errorf("trustproto: canonical encode: %w", err)
	}
	ok, err := pub.Verify(signingBytes, sigBytes)
	if err != nil || !ok {
		return fmt.Errorf("%w: signature does not verify", coreerrors.ErrSignatureInvalid)
	}

	if req.To != localDeviceID {
		return fmt.Errorf("%w: addressed to %q, not us", ErrNotForUs, req.To)
	}
	return nil
}
