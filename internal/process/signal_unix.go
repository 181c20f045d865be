//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// terminate asks the whole process group to exit with SIGTERM, falling back
// to the leader alone when the group is already gone.
func terminate(pid int) error {
	err := syscall.Kill(-pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, syscall.SIGTERM)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// forceKill SIGKILLs every descendant, including those that left the group.
func forceKill(pid int) error {
	treeErr := killTree(pid)
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		err = nil
	}
	return errors.Join(treeErr, err)
}

func exitSignal(ps *os.ProcessState) string {
	if ps == nil {
		return ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}

func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
