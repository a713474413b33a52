//go:build !linux

package listener

import (
	"errors"
	"net"
)

func Listen(_ Options) (net.Listener, error) {
	return nil, errors.New("redirect listener is only supported on linux")
}
