//go:build windows

package process

import "os"

// terminate on Windows has no graceful signal for console-less children,
// so the whole tree is killed by pid.
func terminate(pid int) error {
	return killTree(pid)
}

func forceKill(pid int) error {
	return killTree(pid)
}

func exitSignal(_ *os.ProcessState) string { return "" }

func processExists(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
