package listener

import (
	"net"
	"net/netip"
)

// Options describes the listening socket.
type Options struct {
	// Addr must be an IPv4 address.
	Addr    netip.AddrPort
	Backlog int

	// Transparent enables IP_TRANSPARENT so the socket accepts connections
	// addressed to non-local destinations (TPROXY).
	Transparent bool

	KeepAlive net.KeepAliveConfig
}

// KeepAliveListener sets the configured TCP keepalive on every accepted
// connection, replacing the 15s default net applies to conns accepted from a
// FileListener. A disabled config turns keepalive off.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if tc, ok := conn.(*net.TCPConn); ok && err == nil {
		// Best effort: a conn the peer already reset still gets served and
		// fails on first I/O.
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}
	return conn, err
}
