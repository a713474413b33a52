//go:build linux

package origdst

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func redirectOriginalDst(c *net.TCPConn) (netip.AddrPort, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, err
	}

	var (
		raw     unix.RawSockaddrInet4
		sockErr error
	)
	// Control keeps the descriptor in non-blocking mode, unlike File().
	err = rc.Control(func(fd uintptr) {
		size := uint32(unix.SizeofSockaddrInet4)
		_, _, e := unix.Syscall6(
			unix.SYS_GETSOCKOPT,
			fd,
			uintptr(unix.SOL_IP),
			uintptr(unix.SO_ORIGINAL_DST),
			uintptr(unsafe.Pointer(&raw)),
			uintptr(unsafe.Pointer(&size)),
			0,
		)
		if e != 0 {
			sockErr = os.NewSyscallError("getsockopt SO_ORIGINAL_DST", e)
			return
		}
		if size < unix.SizeofSockaddrInet4 {
			sockErr = fmt.Errorf("getsockopt SO_ORIGINAL_DST: short sockaddr (%d bytes)", size)
		}
	})
	if err != nil {
		return netip.AddrPort{}, err
	}
	if sockErr != nil {
		return netip.AddrPort{}, sockErr
	}

	return decodeSockaddrInet4(&raw)
}

// decodeSockaddrInet4 converts a sockaddr_in as filled in by the kernel. The
// port and address are in network byte order.
func decodeSockaddrInet4(raw *unix.RawSockaddrInet4) (netip.AddrPort, error) {
	if raw.Family != unix.AF_INET {
		return netip.AddrPort{}, fmt.Errorf("getsockopt SO_ORIGINAL_DST: unexpected family %d", raw.Family)
	}
	port := binary.BigEndian.Uint16((*[2]byte)(unsafe.Pointer(&raw.Port))[:])
	return netip.AddrPortFrom(netip.AddrFrom4(raw.Addr), port), nil
}
