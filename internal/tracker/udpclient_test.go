package tracker

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// fakeTracker runs a minimal BEP-15 server for one connect+announce
// round trip, replying with a single peer.
func fakeTracker(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for i := 0; i < 2; i++ {
			_, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			action := int32(binary.BigEndian.Uint32(buf[8:12]))
			txID := buf[12:16]

			switch action {
			case actionConnect:
				resp := make([]byte, 16)
				binary.BigEndian.PutUint32(resp[0:4], uint32(actionConnect))
				copy(resp[4:8], txID)
				binary.BigEndian.PutUint64(resp[8:16], 0xdeadbeefcafebabe)
				conn.WriteToUDP(resp, raddr) //nolint:errcheck
			case actionAnnounce:
				resp := make([]byte, 26)
				binary.BigEndian.PutUint32(resp[0:4], uint32(actionAnnounce))
				copy(resp[4:8], txID)
				binary.BigEndian.PutUint32(resp[8:12], 1800)
				binary.BigEndian.PutUint32(resp[12:16], 2)
				binary.BigEndian.PutUint32(resp[16:20], 3)
				copy(resp[20:24], net.ParseIP("203.0.113.5").To4())
				binary.BigEndian.PutUint16(resp[24:26], 6881)
				conn.WriteToUDP(resp, raddr) //nolint:errcheck
			}
		}
	}()

	return conn.LocalAddr().String()
}

func TestAnnounceRoundtrip(t *testing.T) {
	addr := fakeTracker(t)
	client := NewClient(2 * time.Second)

	infoHash, err := identifier.Random()
	require.NoError(t, err)
	var peerID [20]byte
	copy(peerID[:], "kadcrawl-peer-id0001")

	result, err := client.Announce(addr, infoHash, peerID, 6881)
	require.NoError(t, err)
	assert.Equal(t, int32(2), result.Leechers)
	assert.Equal(t, int32(3), result.Seeders)
	require.Len(t, result.Peers, 1)
	assert.Equal(t, "203.0.113.5", result.Peers[0].Address)
	assert.Equal(t, uint16(6881), result.Peers[0].Port)
}
