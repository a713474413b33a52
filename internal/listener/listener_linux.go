//go:build linux

package listener

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listen creates, configures, binds, and listens on an IPv4 TCP socket.
func Listen(opts Options) (net.Listener, error) {
	addr := opts.Addr.Addr().Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("listen %s: not an IPv4 address", opts.Addr)
	}
	if opts.Backlog <= 0 {
		return nil, errors.New("listen: backlog must be > 0")
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", opts.Addr, os.NewSyscallError("socket", err))
	}

	if err := setup(fd, opts); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", opts.Addr, err)
	}

	// FileListener dups the descriptor; the original is closed with f.
	f := os.NewFile(uintptr(fd), "tcp:"+opts.Addr.String())
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", opts.Addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: opts.KeepAlive}, nil
}

func setup(fd int, opts Options) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt SO_REUSEADDR", err)
	}

	if opts.Transparent {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
			return os.NewSyscallError("setsockopt IP_TRANSPARENT", err)
		}
	}

	sa := &unix.SockaddrInet4{Port: int(opts.Addr.Port()), Addr: opts.Addr.Addr().Unmap().As4()}
	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}

	if err := unix.Listen(fd, opts.Backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}
