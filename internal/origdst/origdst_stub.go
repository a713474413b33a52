//go:build !linux

package origdst

import (
	"errors"
	"net"
	"net/netip"
)

func redirectOriginalDst(_ *net.TCPConn) (netip.AddrPort, error) {
	return netip.AddrPort{}, errors.New("SO_ORIGINAL_DST is only supported on linux")
}
