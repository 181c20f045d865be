package process

import (
	"errors"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killTree kills pid and all of its descendants, deepest first.
// A process that is already gone is not an error.
func killTree(pid int) error {
	root, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var errs []error
	for _, p := range descendants(root) {
		if err := p.Kill(); err != nil && !gone(p) {
			errs = append(errs, err)
		}
	}
	if err := root.Kill(); err != nil && !gone(root) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// descendants lists the children of p recursively, leaves before parents.
func descendants(p *gopsproc.Process) []*gopsproc.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*gopsproc.Process
	for _, c := range children {
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	return out
}

func gone(p *gopsproc.Process) bool {
	ok, err := p.IsRunning()
	return err != nil || !ok
}
