package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

type transparentDialer struct {
	cfg Config
}

// NewTransparentDialer returns a Dialer for TPROXY connections. The upstream
// socket gets IP_TRANSPARENT and SO_MARK, and is bound to the client's IP so
// the upstream sees the real client address. Reply packets carry the mark's
// route back to this process; the matching ip rule is configured externally.
func NewTransparentDialer(cfg Config) Dialer {
	return &transparentDialer{cfg: cfg}
}

func (d *transparentDialer) DialUpstream(ctx context.Context, client, origin netip.AddrPort) (*net.TCPConn, error) {
	src := client.Addr().Unmap()
	if !src.Is4() {
		return nil, fmt.Errorf("dial %s: client %s is not an IPv4 address", origin, client)
	}

	return dial(ctx, d.cfg, origin, func(fd int) error {
		if err := setTransparent(fd, d.cfg.Mark); err != nil {
			return err
		}
		return bindSource(d.cfg, fd, netip.AddrPortFrom(src, 0))
	})
}
