package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHexRoundtrip(t *testing.T) {
	hex40 := "0123456789abcdef0123456789abcdef01234567"
	id, err := ParseHex(hex40)
	require.NoError(t, err)
	assert.Equal(t, hex40, id.String())
}

func TestParseHexRejectsBadLength(t *testing.T) {
	_, err := ParseHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestParseHexRejectsNonHex(t *testing.T) {
	_, err := ParseHex("zz23456789abcdef0123456789abcdef01234567")
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestRandomIsNotZero(t *testing.T) {
	id, err := Random()
	require.NoError(t, err)
	assert.NotEqual(t, Zero, id)
}

func TestXORDistanceSelf(t *testing.T) {
	id, err := Random()
	require.NoError(t, err)
	d := id.XOR(id)
	assert.Equal(t, Distance{}, d)
}

func TestSharesPrefix(t *testing.T) {
	a, _ := ParseHex("0000000000000000000000000000000000000000")
	b, _ := ParseHex("0000010000000000000000000000000000000000")
	assert.True(t, SharesPrefix(a, b, 23))
	assert.False(t, SharesPrefix(a, b, 24))
}

func TestCommonPrefixLen(t *testing.T) {
	a, _ := ParseHex("ffffffffffffffffffffffffffffffffffffffff")
	b, _ := ParseHex("7fffffffffffffffffffffffffffffffffffffff")
	assert.Equal(t, 0, CommonPrefixLen(a, b))
	assert.Equal(t, 160, CommonPrefixLen(a, a))
}

func TestEndpointCompactIPv4Roundtrip(t *testing.T) {
	ep := Endpoint{Address: "192.0.2.1", Port: 5000}
	b, err := ep.CompactIPv4()
	require.NoError(t, err)
	require.Len(t, b, 6)

	back, err := EndpointFromCompactIPv4(b)
	require.NoError(t, err)
	assert.Equal(t, ep, back)
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("10.0.0.5:6881")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ep.Address)
	assert.EqualValues(t, 6881, ep.Port)
}
