//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonAttrs starts the child in a new session.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
