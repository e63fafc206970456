package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

// lockFile is held open for the lifetime of the process so the advisory
// lock released automatically on exit or crash.
var lockFile *os.File

// acquireLockfile takes an exclusive, non-blocking advisory lock on
// --lockfile so a second rtrmd instance started against the same rundir
// fails fast instead of racing the first one's scheduling decisions.
func acquireLockfile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("lockfile")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("rtrmd: open lockfile %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("rtrmd: another instance already holds %s: %w", path, err)
	}
	lockFile = f
	return nil
}

// dropPrivileges switches the process to --gid/--uid before the manager is
// started (and so before its listening sockets are bound), in that order
// since Setuid before Setgid would forfeit the permission to change the
// group.
func dropPrivileges(cmd *cobra.Command) error {
	gid, _ := cmd.Flags().GetInt("gid")
	uid, _ := cmd.Flags().GetInt("uid")

	if gid != 0 {
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("rtrmd: setgid(%d): %w", gid, err)
		}
	}
	if uid != 0 {
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("rtrmd: setuid(%d): %w", uid, err)
		}
	}
	return nil
}
