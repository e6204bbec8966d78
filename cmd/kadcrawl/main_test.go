package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kadcrawl "github.com/kadcrawl/kadcrawl"
)

func TestResolveIdentitiesRandomByDefault(t *testing.T) {
	cfg := &kadcrawl.Config{Settings: map[string]string{}}
	id1, peer1, err := resolveIdentities(cfg)
	require.NoError(t, err)
	id2, peer2, err := resolveIdentities(cfg)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, peer1, peer2)
	assert.Equal(t, "-KC0010-", string(peer1[:8]))
}

func TestResolveIdentitiesHonorsFixedNodeID(t *testing.T) {
	cfg := &kadcrawl.Config{Settings: map[string]string{
		"dht.node_id": "0102030405060708090a0b0c0d0e0f1011121314",
	}}
	id, _, err := resolveIdentities(cfg)
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", id.String())
}

func TestResolveIdentitiesRejectsMalformedNodeID(t *testing.T) {
	cfg := &kadcrawl.Config{Settings: map[string]string{"dht.node_id": "not-hex"}}
	_, _, err := resolveIdentities(cfg)
	assert.Error(t, err)
}
