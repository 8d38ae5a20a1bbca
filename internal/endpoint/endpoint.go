// Package endpoint defines the (IP, port) identity shared by every
// branch/trunk/peer concept in MiniPlex.
package endpoint

import (
	"fmt"
	"net"
	"net/netip"
)

// Endpoint is a UDP peer identity: an IP address plus a port. It is a
// small comparable value, safe to use as a map key directly.
type Endpoint struct {
	addr netip.Addr
	port uint16
}

// New builds an Endpoint from an address and port.
func New(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{addr: addr.Unmap(), port: port}
}

// FromUDPAddr converts a *net.UDPAddr, as returned by ReadFromUDP, into
// an Endpoint.
func FromUDPAddr(a *net.UDPAddr) (Endpoint, error) {
	addr, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint: invalid IP %v", a.IP)
	}
	return New(addr, uint16(a.Port)), nil
}

// Parse builds an Endpoint from a textual IP and a port, as accepted from
// CLI flags.
func Parse(ip string, port uint16) (Endpoint, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid address %q: %w", ip, err)
	}
	return New(addr, port), nil
}

// Addr returns the IP address component.
func (e Endpoint) Addr() netip.Addr { return e.addr }

// Port returns the UDP port component.
func (e Endpoint) Port() uint16 { return e.port }

// IsZero reports whether e is the unset Endpoint value.
func (e Endpoint) IsZero() bool { return !e.addr.IsValid() }

// UDPAddr converts back to a *net.UDPAddr for socket calls.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.addr.AsSlice(), Port: int(e.port)}
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.addr.String(), fmt.Sprintf("%d", e.port))
}
