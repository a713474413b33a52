package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// Dialer connects to the original destination of a redirected connection.
// client is the peer address of the accepted downstream connection.
type Dialer interface {
	DialUpstream(ctx context.Context, client, origin netip.AddrPort) (*net.TCPConn, error)
}

// controlFunc configures and optionally binds the unconnected socket.
type controlFunc func(fd int) error

func dial(ctx context.Context, cfg Config, origin netip.AddrPort, control controlFunc) (*net.TCPConn, error) {
	if !origin.Addr().Unmap().Is4() {
		return nil, fmt.Errorf("dial %s: not an IPv4 address", origin)
	}
	origin = netip.AddrPortFrom(origin.Addr().Unmap(), origin.Port())

	d := net.Dialer{
		ControlContext: func(_ context.Context, _, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = control(int(fd))
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	conn, err := d.DialContext(ctx, "tcp4", origin.String())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", origin, err)
	}

	tc, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, errors.New("connect: not a TCP connection")
	}
	_ = tc.SetKeepAliveConfig(cfg.KeepAlive)

	return tc, nil
}

// bindSource binds fd to addr and logs the outcome.
func bindSource(cfg Config, fd int, addr netip.AddrPort) error {
	if err := bind4(fd, addr); err != nil {
		cfg.logger().Infof("bind to: %s failed, err: %v", addr, err)
		return err
	}
	cfg.logger().Infof("bind to: %s success", addr)
	return nil
}
