package btpeer

import (
	"github.com/kadcrawl/kadcrawl/internal/bencode"
)

// extensionKeyMetadata is the local id this crawler assigns the
// ut_metadata extension in its own handshake's "m" dict, per BEP-10
// convention (any value works, peers echo the sender's chosen id back).
const extensionKeyMetadata = 1

// extensionHandshakeID is the reserved extended-message id (0) used for
// the handshake itself, before either side has negotiated any other
// extension ids.
const extensionHandshakeID = 0

// extensionHandshake is the payload of the id-0 extended message BEP-10
// defines: an "m" dict mapping extension names to the sender's chosen
// message ids, plus optional metadata_size once the peer knows it.
type extensionHandshake struct {
	M            map[string]int64 `bencode:"m"`
	MetadataSize int64            `bencode:"metadata_size,omitempty"`
	Version      string           `bencode:"v,omitempty"`
}

func encodeExtensionHandshake() ([]byte, error) {
	hs := extensionHandshake{M: map[string]int64{"ut_metadata": extensionKeyMetadata}, Version: "kadcrawl"}
	return bencode.Encode(hs)
}

func decodeExtensionHandshake(b []byte) (extensionHandshake, error) {
	var hs extensionHandshake
	err := bencode.DecodeBytes(b, &hs)
	return hs, err
}

// metadataMessageType is the "msg_type" field of a ut_metadata message.
type metadataMessageType int64

const (
	metadataRequest metadataMessageType = 0
	metadataData    metadataMessageType = 1
	metadataReject  metadataMessageType = 2
)

// metadataMessage is the bencoded dict prefix of a ut_metadata message; a
// metadataData message has the requested piece's raw bytes appended
// immediately after this dict, outside of bencode.
type metadataMessage struct {
	MsgType   metadataMessageType `bencode:"msg_type"`
	Piece     int64               `bencode:"piece"`
	TotalSize int64               `bencode:"total_size,omitempty"`
}

func encodeMetadataMessage(msg metadataMessage) ([]byte, error) {
	return bencode.Encode(msg)
}

// splitExtendedPayload separates an extended message's payload into the
// leading bencoded dict and any trailing raw bytes, since a metadataData
// message appends its piece bytes after the dict with no further
// delimiter — the dict's own length is implicit in its own encoding.
func splitExtendedPayload(payload []byte) (dict []byte, rest []byte, err error) {
	n, err := bencode.DictPrefixLen(payload)
	if err != nil {
		return nil, nil, err
	}
	return payload[:n], payload[n:], nil
}
