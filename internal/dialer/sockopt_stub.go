//go:build !linux

package dialer

import (
	"errors"
	"net/netip"
)

func setTransparent(_ int, _ uint32) error {
	return errors.New("transparent dialing is only supported on linux")
}

func bind4(_ int, _ netip.AddrPort) error {
	return errors.New("source bind is only supported on linux")
}
