//go:build linux

package testutil

import (
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

// SockoptInt reads an integer socket option from c.
func SockoptInt(t *testing.T, c syscall.Conn, level, opt int) int {
	t.Helper()

	rc, err := c.SyscallConn()
	if err != nil {
		t.Fatal(err)
	}

	var (
		v    int
		gerr error
	)
	if err := rc.Control(func(fd uintptr) {
		v, gerr = unix.GetsockoptInt(int(fd), level, opt)
	}); err != nil {
		t.Fatal(err)
	}
	if gerr != nil {
		t.Fatalf("getsockopt(%d, %d): %v", level, opt, gerr)
	}
	return v
}
