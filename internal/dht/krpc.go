// Package dht implements the Kademlia Mainline DHT engine: KRPC message
// encoding, transaction multiplexing, token issuance, bootstrap, iterative
// lookup, and the periodic discovery loops. Message shapes are grounded on
// the krpc.Msg/MsgArgs/Return layout used throughout the pack's DHT
// implementations (yarikk-dht's krpc package), adapted to kadcrawl's own
// bencode codec and identifier types instead of that package's.
package dht

import (
	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// Query method names, per BEP-5.
const (
	MethodPing         = "ping"
	MethodFindNode     = "find_node"
	MethodGetPeers     = "get_peers"
	MethodAnnouncePeer = "announce_peer"
)

// Message kinds ("y" field).
const (
	TypeQuery    = "q"
	TypeResponse = "r"
	TypeError    = "e"
)

// DHT error codes (BEP-5 §errors).
const (
	ErrCodeGeneric       = 201
	ErrCodeServer        = 202
	ErrCodeProtocol      = 203
	ErrCodeMethodUnknown = 204
)

// Msg is the single envelope every KRPC message decodes into. Only the
// fields relevant to Y/Q are populated, mirroring yarikk-dht's krpc.Msg.
type Msg struct {
	T string        `bencode:"t"`
	Y string        `bencode:"y"`
	Q string        `bencode:"q,omitempty"`
	A *Args         `bencode:"a,omitempty"`
	R *Return       `bencode:"r,omitempty"`
	E []interface{} `bencode:"e,omitempty"`
}

// Args carries a query's named arguments across all four supported
// methods; unused fields are omitted on encode via omitempty.
type Args struct {
	ID          identifier.ID `bencode:"id"`
	Target      identifier.ID `bencode:"target,omitempty"`
	InfoHash    identifier.ID `bencode:"info_hash,omitempty"`
	Token       string        `bencode:"token,omitempty"`
	Port        int64         `bencode:"port,omitempty"`
	ImpliedPort int64         `bencode:"implied_port,omitempty"`
}

// Return carries a response's return values across all four methods.
type Return struct {
	ID     identifier.ID `bencode:"id"`
	Nodes  []byte        `bencode:"nodes,omitempty"`
	Token  string        `bencode:"token,omitempty"`
	Values [][]byte      `bencode:"values,omitempty"`
}

// ErrorCode extracts the two elements of a KRPC error's "e" list
// ([code, message]), returning ok=false if the list is malformed.
func ErrorCode(e []interface{}) (code int64, message string, ok bool) {
	if len(e) != 2 {
		return 0, "", false
	}
	c, ok1 := e[0].(int64)
	m, ok2 := e[1].([]byte)
	if !ok1 || !ok2 {
		return 0, "", false
	}
	return c, string(m), true
}

// NewErrorValue builds the "e" list value for a KRPC error response.
func NewErrorValue(code int64, message string) []interface{} {
	return []interface{}{code, message}
}

// EncodeNodes packs compact node info: 20-byte id + 6-byte compact IPv4
// endpoint per node, concatenated, as used in find_node/get_peers "nodes".
func EncodeNodes(nodes []NodeInfo) ([]byte, error) {
	out := make([]byte, 0, len(nodes)*26)
	for _, n := range nodes {
		compact, err := n.Endpoint.CompactIPv4()
		if err != nil {
			continue // skip non-IPv4 nodes; BEP-5 "nodes" is IPv4-only
		}
		out = append(out, n.ID[:]...)
		out = append(out, compact...)
	}
	return out, nil
}

// DecodeNodes unpacks the compact node info produced by EncodeNodes.
func DecodeNodes(b []byte) ([]NodeInfo, error) {
	const entry = 26
	if len(b)%entry != 0 {
		return nil, ErrMalformedNodes
	}
	out := make([]NodeInfo, 0, len(b)/entry)
	for i := 0; i+entry <= len(b); i += entry {
		var id identifier.ID
		copy(id[:], b[i:i+20])
		ep, err := identifier.EndpointFromCompactIPv4(b[i+20 : i+26])
		if err != nil {
			return nil, err
		}
		out = append(out, NodeInfo{ID: id, Endpoint: ep})
	}
	return out, nil
}

// NodeInfo is a (NodeID, Endpoint) pair as returned in find_node/get_peers
// responses, before it's folded into a routing-table kademlia.Node.
type NodeInfo struct {
	ID       identifier.ID
	Endpoint identifier.Endpoint
}

// EncodeValues packs a list of peer endpoints into compact 6-byte entries,
// the "values" field of a get_peers response.
func EncodeValues(eps []identifier.Endpoint) [][]byte {
	out := make([][]byte, 0, len(eps))
	for _, ep := range eps {
		if b, err := ep.CompactIPv4(); err == nil {
			out = append(out, b)
		}
	}
	return out
}

// DecodeValues unpacks the "values" field of a get_peers response.
func DecodeValues(values [][]byte) ([]identifier.Endpoint, error) {
	out := make([]identifier.Endpoint, 0, len(values))
	for _, v := range values {
		ep, err := identifier.EndpointFromCompactIPv4(v)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}
