// Package pairing provides the encode/decode surface for the pairing QR
// payload spec.md §6 defines (base64url JSON of a device's identity and
// reachable addresses) but leaves without a Go-native helper. It sits
// between identity.DeviceIdentity (the in-process record) and
// wire.PairingPayload (the bytes-on-the-wire shape), the way trustproto
// sits between wire.TrustRequest and crypto.PrivKey.
package pairing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/myelnet/clipmesh/coreerrors"
	"github.com/myelnet/clipmesh/identity"
	"github.com/myelnet/clipmesh/wire"
)

// EncodeQR renders id as the base64url JSON payload a pairing host shows
// as a QR code (spec.md §6's "Pairing QR payload"). The private key is
// never included.
func EncodeQR(id identity.DeviceIdentity) (string, error) {
	payload := wire.PairingPayload{
		DeviceID:   id.DeviceID,
		DeviceName: id.DeviceName,
		PublicKey:  id.PublicKey,
		Multiaddrs: id.Multiaddrs,
		CreatedAt:  id.CreatedAt,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("pairing: encode: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodeQR parses a pairing QR payload produced by EncodeQR. Any failure
// to base64-decode, JSON-unmarshal, or a payload missing a device id is
// reported as coreerrors.ErrInvalidPairingPayload; unknown JSON fields are
// ignored per spec.md §6.
func DecodeQR(s string) (wire.PairingPayload, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return wire.PairingPayload{}, fmt.Errorf("%w: %v", coreerrors.ErrInvalidPairingPayload, err)
	}
	var payload wire.PairingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return wire.PairingPayload{}, fmt.Errorf("%w: %v", coreerrors.ErrInvalidPairingPayload, err)
	}
	if payload.DeviceID == "" {
		return wire.PairingPayload{}, fmt.Errorf("%w: missing deviceId", coreerrors.ErrInvalidPairingPayload)
	}
	return payload, nil
}
