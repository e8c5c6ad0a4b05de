package pairing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/clipmesh/coreerrors"
	"github.com/myelnet/clipmesh/identity"
)

func TestEncodeDecodeQRRoundtrips(t *testing.T) {
	id := identity.DeviceIdentity{
		DeviceID:   "dev-1",
		DeviceName: "Alice's Laptop",
		PublicKey:  []byte{1, 2, 3, 4},
		PrivateKey: []byte{9, 9, 9},
		Multiaddrs: []string{"/ip4/127.0.0.1/tcp/4001/ws"},
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}

	encoded, err := EncodeQR(id)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeQR(encoded)
	require.NoError(t, err)
	require.Equal(t, id.DeviceID, decoded.DeviceID)
	require.Equal(t, id.DeviceName, decoded.DeviceName)
	require.Equal(t, id.PublicKey, decoded.PublicKey)
	require.Equal(t, id.Multiaddrs, decoded.Multiaddrs)
	require.True(t, id.CreatedAt.Equal(decoded.CreatedAt))
}

func TestEncodeQRNeverIncludesPrivateKey(t *testing.T) {
	id := identity.DeviceIdentity{
		DeviceID:   "dev-1",
		PublicKey:  []byte{1},
		PrivateKey: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	encoded, err := EncodeQR(id)
	require.NoError(t, err)
	decoded, err := DecodeQR(encoded)
	require.NoError(t, err)
	require.Equal(t, id.DeviceID, decoded.DeviceID)
	// wire.PairingPayload has no private key field at all, so there is
	// nothing for decode to even expose.
}

func TestDecodeQRRejectsGarbageBase64(t *testing.T) {
	_, err := DecodeQR("not valid base64url!!!")
	require.True(t, errors.Is(err, coreerrors.ErrInvalidPairingPayload))
}

func TestDecodeQRRejectsNonJSONPayload(t *testing.T) {
	encoded := "aGVsbG8gd29ybGQ=" // base64url of "hello world"
	_, err := DecodeQR(encoded)
	require.True(t, errors.Is(err, coreerrors.ErrInvalidPairingPayload))
}

func TestDecodeQRRejectsMissingDeviceID(t *testing.T) {
	id := identity.DeviceIdentity{DeviceName: "no id"}
	encoded, err := EncodeQR(id)
	require.NoError(t, err)
	_, err = DecodeQR(encoded)
	require.True(t, errors.Is(err, coreerrors.ErrInvalidPairingPayload))
}
