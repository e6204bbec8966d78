package btpeer

import (
	"crypto/sha1" //nolint:gosec
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/bencode"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/netio"
)

// rawHandshakeBytes builds the 68-byte wire handshake a real peer would
// send, used to play the "remote peer" side of the roundtrip test without
// depending on netio.TCPConn's unexported fields.
func rawHandshakeBytes(infoHash identifier.ID, peerID [20]byte, extensionBit bool) []byte {
	out := make([]byte, handshakeLen)
	out[0] = byte(len(protocolString))
	copy(out[1:], protocolString)
	if extensionBit {
		out[1+len(protocolString)+5] |= extensionReservedByte
	}
	copy(out[1+len(protocolString)+8:1+len(protocolString)+8+20], infoHash.Bytes())
	copy(out[1+len(protocolString)+8+20:], peerID[:])
	return out
}

func TestHandshakeRoundtrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	infoHash, err := identifier.Random()
	require.NoError(t, err)
	var serverID, clientID [20]byte
	copy(serverID[:], "server-peer-id012345")
	copy(clientID[:], "client-peer-id012345")

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, handshakeLen)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write(rawHandshakeBytes(infoHash, serverID, true)) //nolint:errcheck
	}()

	ep, err := identifier.ParseEndpoint(ln.Addr().String())
	require.NoError(t, err)
	conn, err := netio.DialTCP(ep, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	defer conn.Close()

	hs, err := doHandshake(conn, infoHash, clientID, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, serverID, hs.PeerID)
	assert.True(t, hs.ExtensionProtocol)
}

func TestHandshakeRejectsInfoHashMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	infoHash, err := identifier.Random()
	require.NoError(t, err)
	otherHash, err := identifier.Random()
	require.NoError(t, err)
	var serverID, clientID [20]byte

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, handshakeLen)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write(rawHandshakeBytes(otherHash, serverID, true)) //nolint:errcheck
	}()

	ep, err := identifier.ParseEndpoint(ln.Addr().String())
	require.NoError(t, err)
	conn, err := netio.DialTCP(ep, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	defer conn.Close()

	_, err = doHandshake(conn, infoHash, clientID, time.Now().Add(2*time.Second))
	assert.ErrorIs(t, err, ErrInfoHashMismatch)
}

func TestExtensionHandshakeEncodeDecode(t *testing.T) {
	raw, err := encodeExtensionHandshake()
	require.NoError(t, err)
	hs, err := decodeExtensionHandshake(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(extensionKeyMetadata), hs.M["ut_metadata"])
}

func TestSplitExtendedPayload(t *testing.T) {
	dict, err := bencode.Encode(metadataMessage{MsgType: metadataData, Piece: 0, TotalSize: 10})
	require.NoError(t, err)
	payload := append(append([]byte{}, dict...), []byte("0123456789")...)

	gotDict, rest, err := splitExtendedPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, dict, gotDict)
	assert.Equal(t, []byte("0123456789"), rest)
}

func TestMetadataAssemblerAssemblesInOrder(t *testing.T) {
	total := int64(metadataBlockSize + 100)
	asm := newMetadataAssembler(total)

	reqs := asm.nextRequests(4)
	require.Len(t, reqs, 2)

	require.NoError(t, asm.gotPiece(0, make([]byte, metadataBlockSize)))
	require.NoError(t, asm.gotPiece(1, make([]byte, 100)))
	assert.True(t, asm.done())
}

func TestMetadataAssemblerRejectsWrongSize(t *testing.T) {
	asm := newMetadataAssembler(metadataBlockSize)
	asm.nextRequests(4)
	err := asm.gotPiece(0, make([]byte, 10))
	assert.Error(t, err)
}

func TestDecodeInfoSingleFile(t *testing.T) {
	d := infoDict{Name: "example.iso", PieceLength: 16384, Pieces: make([]byte, 20), Length: 5000}
	raw, err := bencode.Encode(d)
	require.NoError(t, err)
	sum := sha1.Sum(raw)
	want := identifier.ID(sum)

	info, err := DecodeInfo(raw, want)
	require.NoError(t, err)
	assert.Equal(t, "example.iso", info.Name)
	assert.Equal(t, int64(5000), info.TotalSize)
	assert.Equal(t, 1, info.PieceCount)
}

func TestDecodeInfoRejectsHashMismatch(t *testing.T) {
	d := infoDict{Name: "x", PieceLength: 16384, Pieces: make([]byte, 20), Length: 1}
	raw, err := bencode.Encode(d)
	require.NoError(t, err)
	wrong, err := identifier.Random()
	require.NoError(t, err)

	_, err = DecodeInfo(raw, wrong)
	assert.Error(t, err)
}
