// Package portprobe answers whether a local TCP port is already bound.
package portprobe

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// MaxPort is the highest valid TCP port number.
const MaxPort = 65535

// IsBusy reports whether some process already listens on port.
// It binds a throwaway listener on all interfaces and closes it immediately.
// Only an "address in use" failure counts as busy; any other bind failure
// (permissions, invalid port) is reported as not busy.
func IsBusy(port int) bool {
	if port <= 0 || port > MaxPort {
		return false
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return isAddrInUse(err)
	}
	_ = ln.Close()
	return false
}

// IsFree is the negation of IsBusy for valid ports.
func IsFree(port int) bool {
	return port > 0 && port <= MaxPort && !IsBusy(port)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) && errors.Is(sysErr.Err, syscall.EADDRINUSE) {
			return true
		}
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// Windows reports WSAEADDRINUSE which does not always unwrap to EADDRINUSE.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}
