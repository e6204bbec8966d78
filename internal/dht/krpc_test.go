package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/bencode"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

func TestEncodeDecodePingQuery(t *testing.T) {
	id, err := identifier.Random()
	require.NoError(t, err)
	msg := Msg{T: "aa", Y: TypeQuery, Q: MethodPing, A: &Args{ID: id}}

	b, err := bencode.Encode(msg)
	require.NoError(t, err)

	var decoded Msg
	require.NoError(t, bencode.DecodeBytes(b, &decoded))
	assert.Equal(t, "aa", decoded.T)
	assert.Equal(t, TypeQuery, decoded.Y)
	assert.Equal(t, MethodPing, decoded.Q)
	require.NotNil(t, decoded.A)
	assert.Equal(t, id, decoded.A.ID)
}

func TestEncodeDecodeGetPeersResponseWithValues(t *testing.T) {
	id, _ := identifier.Random()
	values := EncodeValues([]identifier.Endpoint{{Address: "192.0.2.5", Port: 6881}})
	msg := Msg{T: "bb", Y: TypeResponse, R: &Return{ID: id, Token: "tok123", Values: values}}

	b, err := bencode.Encode(msg)
	require.NoError(t, err)

	var decoded Msg
	require.NoError(t, bencode.DecodeBytes(b, &decoded))
	require.NotNil(t, decoded.R)
	assert.Equal(t, "tok123", decoded.R.Token)

	eps, err := DecodeValues(decoded.R.Values)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "192.0.2.5", eps[0].Address)
	assert.EqualValues(t, 6881, eps[0].Port)
}

func TestEncodeDecodeNodesRoundtrip(t *testing.T) {
	id1, _ := identifier.Random()
	id2, _ := identifier.Random()
	nodes := []NodeInfo{
		{ID: id1, Endpoint: identifier.Endpoint{Address: "10.0.0.1", Port: 6881}},
		{ID: id2, Endpoint: identifier.Endpoint{Address: "10.0.0.2", Port: 6882}},
	}
	b, err := EncodeNodes(nodes)
	require.NoError(t, err)
	assert.Len(t, b, 52)

	decoded, err := DecodeNodes(b)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, nodes[0].ID, decoded[0].ID)
	assert.Equal(t, nodes[1].Endpoint, decoded[1].Endpoint)
}

func TestErrorValueRoundtrip(t *testing.T) {
	msg := Msg{T: "cc", Y: TypeError, E: NewErrorValue(ErrCodeProtocol, "bad token")}
	b, err := bencode.Encode(msg)
	require.NoError(t, err)

	var decoded Msg
	require.NoError(t, bencode.DecodeBytes(b, &decoded))
	code, message, ok := ErrorCode(decoded.E)
	require.True(t, ok)
	assert.EqualValues(t, ErrCodeProtocol, code)
	assert.Equal(t, "bad token", message)
}
