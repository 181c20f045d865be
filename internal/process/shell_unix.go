//go:build !windows

package process

import "os/exec"

// getShellCommand runs script through /bin/sh. The absolute path keeps it
// working when the service env overrides PATH.
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

func getTrueCommand() *exec.Cmd {
	return exec.Command("/bin/true")
}
