//go:build linux

package privdrop

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Drop sets the group id and then the user id of every thread in the
// process. The gid goes first: once the uid is unprivileged the process can
// no longer change its gid.
func Drop(uid, gid int) error {
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, os.NewSyscallError("setgid", err))
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, os.NewSyscallError("setuid", err))
	}
	return nil
}

// Verify checks that the real, effective, and saved ids all equal uid and gid.
func Verify(uid, gid int) error {
	ruid, euid, suid := unix.Getresuid()
	if ruid != uid || euid != uid || suid != uid {
		return fmt.Errorf("uid is %d/%d/%d, want %d", ruid, euid, suid, uid)
	}

	rgid, egid, sgid := unix.Getresgid()
	if rgid != gid || egid != gid || sgid != gid {
		return fmt.Errorf("gid is %d/%d/%d, want %d", rgid, egid, sgid, gid)
	}
	return nil
}
