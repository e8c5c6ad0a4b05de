package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalEncodeIsStableUnderKeyReordering(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": []interface{}{3, 1, 2}}
	b := map[string]interface{}{"c": []interface{}{3, 1, 2}, "a": 2, "b": 1}

	ea, err := CanonicalEncode(a)
	require.NoError(t, err)
	eb, err := CanonicalEncode(b)
	require.NoError(t, err)
	require.Equal(t, string(ea), string(eb))
}

func TestCanonicalEncodeIsDeterministicAcrossCalls(t *testing.T) {
	v := map[string]interface{}{"z": "y", "a": []interface{}{"x", "w"}}
	e1, err := CanonicalEncode(v)
	require.NoError(t, err)
	e2, err := CanonicalEncode(v)
	require.NoError(t, err)
	require.Equal(t, e1, e2)
}

func TestCanonicalEncodeOmitsOmittedFields(t *testing.T) {
	r := TrustRequest{Type: TypeTrustRequest, From: "a", To: "b", SentAt: 1}
	b, err := CanonicalEncode(r.SigningPayload())
	require.NoError(t, err)
	require.NotContains(t, string(b), "sig")
}

func TestCanonicalEncodePreservesArrayOrder(t *testing.T) {
	v := []interface{}{"z", "a", "m"}
	b, err := CanonicalEncode(v)
	require.NoError(t, err)
	require.Equal(t, `["z","a","m"]`, string(b))
}
