package identifier

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is an IPv4 or IPv6 address plus a 16-bit port, used everywhere a
// remote DHT node or BitTorrent peer address is tracked. It is a plain value
// type: no methods mutate it.
type Endpoint struct {
	Address string
	Port    uint16
}

// String renders the endpoint the way net.JoinHostPort does.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

// Equal reports whether e and other refer to the same address and port.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Address == other.Address && e.Port == other.Port
}

// UDPAddr resolves the endpoint to a *net.UDPAddr.
func (e Endpoint) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", e.String())
}

// TCPAddr resolves the endpoint to a *net.TCPAddr.
func (e Endpoint) TCPAddr() (*net.TCPAddr, error) {
	return net.ResolveTCPAddr("tcp", e.String())
}

// ParseEndpoint parses "host:port" into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("identifier: %w: %v", ErrInvalidEncoding, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("identifier: %w: %v", ErrInvalidEncoding, err)
	}
	return Endpoint{Address: host, Port: uint16(port)}, nil
}

// EndpointFromUDPAddr converts a resolved UDP address into an Endpoint.
func EndpointFromUDPAddr(a *net.UDPAddr) Endpoint {
	return Endpoint{Address: a.IP.String(), Port: uint16(a.Port)}
}

// EndpointFromTCPAddr converts a resolved TCP address into an Endpoint.
func EndpointFromTCPAddr(a *net.TCPAddr) Endpoint {
	return Endpoint{Address: a.IP.String(), Port: uint16(a.Port)}
}

// CompactIPv4 encodes the endpoint as BitTorrent's 6-byte compact form
// (4-byte big-endian IPv4 address + 2-byte big-endian port), the wire shape
// used in KRPC "values"/"nodes" fields and in tracker compact peer lists.
func (e Endpoint) CompactIPv4() ([]byte, error) {
	ip := net.ParseIP(e.Address)
	if ip == nil {
		return nil, fmt.Errorf("identifier: %w: not an IP address: %q", ErrInvalidEncoding, e.Address)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("identifier: %w: not an IPv4 address: %q", ErrInvalidEncoding, e.Address)
	}
	out := make([]byte, 6)
	copy(out[:4], ip4)
	out[4] = byte(e.Port >> 8)
	out[5] = byte(e.Port)
	return out, nil
}

// EndpointFromCompactIPv4 decodes BitTorrent's 6-byte compact endpoint form.
func EndpointFromCompactIPv4(b []byte) (Endpoint, error) {
	if len(b) != 6 {
		return Endpoint{}, fmt.Errorf("identifier: %w: compact endpoint must be 6 bytes, got %d", ErrInvalidEncoding, len(b))
	}
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	port := uint16(b[4])<<8 | uint16(b[5])
	return Endpoint{Address: ip.String(), Port: port}, nil
}
