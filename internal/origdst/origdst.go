package origdst

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var (
	// ErrNotRedirected is returned when a connection reached the listener
	// directly instead of through a redirect rule.
	ErrNotRedirected = errors.New("connection was not redirected")

	// ErrLoop is returned when the original destination is the proxy's own
	// listening socket, which would make the proxy dial itself.
	ErrLoop = errors.New("original destination is the proxy listener")
)

// Resolver returns the original destination of an accepted connection.
type Resolver interface {
	OriginalDst(c *net.TCPConn) (netip.AddrPort, error)
}

// Transparent resolves connections accepted on an IP_TRANSPARENT listener
// from the TPROXY target.
type Transparent struct {
	// Listen is the proxy's own listen address. A destination on its port
	// whose address is the listen address, or any local address when
	// listening on 0.0.0.0, is the proxy itself and is rejected. The same
	// port on a remote host is proxied normally. The zero value disables the
	// check.
	Listen netip.AddrPort
}

// OriginalDst returns the local address of c.
func (r Transparent) OriginalDst(c *net.TCPConn) (netip.AddrPort, error) {
	dst, err := localAddrPort(c)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if r.loops(dst) {
		return netip.AddrPort{}, fmt.Errorf("%s: %w", dst, ErrLoop)
	}
	return dst, nil
}

func (r Transparent) loops(dst netip.AddrPort) bool {
	if !r.Listen.IsValid() || dst.Port() != r.Listen.Port() {
		return false
	}
	listen := r.Listen.Addr().Unmap()
	if dst.Addr() == listen {
		return true
	}
	return listen.IsUnspecified() && isLocalAddr(dst.Addr())
}

// isLocalAddr reports whether addr is loopback or assigned to an interface.
func isLocalAddr(addr netip.Addr) bool {
	if addr.IsLoopback() {
		return true
	}
	ifAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range ifAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipNet.IP); ok && ip.Unmap() == addr {
			return true
		}
	}
	return false
}

// Redirect resolves connections from the REDIRECT target with SO_ORIGINAL_DST.
type Redirect struct{}

// OriginalDst queries the kernel for the pre-NAT destination of c.
func (Redirect) OriginalDst(c *net.TCPConn) (netip.AddrPort, error) {
	dst, err := redirectOriginalDst(c)
	if err != nil {
		return netip.AddrPort{}, err
	}

	// Conntrack reports the socket's own address for flows that were not
	// NATed.
	if local, err := localAddrPort(c); err == nil && local == dst {
		return netip.AddrPort{}, fmt.Errorf("%s: %w", dst, ErrNotRedirected)
	}
	return dst, nil
}

func localAddrPort(c *net.TCPConn) (netip.AddrPort, error) {
	la, ok := c.LocalAddr().(*net.TCPAddr)
	if !ok || la == nil {
		return netip.AddrPort{}, errors.New("local address unavailable")
	}
	ap := la.AddrPort()
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return netip.AddrPort{}, fmt.Errorf("local address %s is not IPv4", la)
	}
	return netip.AddrPortFrom(addr, ap.Port()), nil
}
