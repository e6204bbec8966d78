package netio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

func TestUDPSendReceiveRoundtrip(t *testing.T) {
	a, err := ListenUDP(0)
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP(0)
	require.NoError(t, err)
	defer b.Close()

	dst := identifier.Endpoint{Address: "127.0.0.1", Port: a.LocalPort()}
	require.NoError(t, b.SendTo([]byte("hello"), dst, time.Now().Add(time.Second)))

	buf := make([]byte, 64)
	n, from, err := a.ReceiveFrom(buf, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.EqualValues(t, b.LocalPort(), from.Port)
}

func TestUDPReceiveTimeout(t *testing.T) {
	a, err := ListenUDP(0)
	require.NoError(t, err)
	defer a.Close()

	buf := make([]byte, 64)
	_, _, err = a.ReceiveFrom(buf, time.Now().Add(10*time.Millisecond))
	assert.ErrorIs(t, err, Timeout)
}

func TestTCPDialReadWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		conn.Read(buf)
		conn.Write(buf)
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	c, err := DialTCP(identifier.Endpoint{Address: "127.0.0.1", Port: port}, time.Now().Add(time.Second))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Write([]byte("hello"), time.Now().Add(time.Second)))
	buf := make([]byte, 5)
	require.NoError(t, c.ReadFull(buf, time.Now().Add(time.Second)))
	assert.Equal(t, "hello", string(buf))
}

func TestTCPDialRefusedFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	_, err = DialTCP(identifier.Endpoint{Address: "127.0.0.1", Port: port}, time.Now().Add(time.Second))
	assert.Error(t, err)
}
