package dialer

import (
	"context"
	"net"
	"net/netip"
)

var loopbackSource = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 0)

type redirectDialer struct {
	cfg Config
}

// NewRedirectDialer returns a Dialer for connections recovered with
// SO_ORIGINAL_DST. No socket options are set. A loopback origin is dialed
// from 127.0.0.1 on an ephemeral port; any other origin is left to the
// kernel's source address selection, since a loopback source cannot reach a
// remote destination.
func NewRedirectDialer(cfg Config) Dialer {
	return &redirectDialer{cfg: cfg}
}

func (d *redirectDialer) DialUpstream(ctx context.Context, _, origin netip.AddrPort) (*net.TCPConn, error) {
	bindLoopback := origin.Addr().Unmap().IsLoopback()

	return dial(ctx, d.cfg, origin, func(fd int) error {
		if !bindLoopback {
			return nil
		}
		return bindSource(d.cfg, fd, loopbackSource)
	})
}
