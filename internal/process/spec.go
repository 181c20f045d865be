package process

import (
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/loykin/svcman/internal/logger"
)

// Spec describes how to launch one managed service.
type Spec struct {
	Name    string        `json:"name" mapstructure:"name"`
	Command string        `json:"command" mapstructure:"command"` // program, or a shell line when Args is empty
	Args    []string      `json:"args" mapstructure:"args"`       // explicit argv; disables shell parsing of Command
	WorkDir string        `json:"work_dir" mapstructure:"work_dir"`
	Env     []string      `json:"env" mapstructure:"env"` // extra K=V pairs
	Log     logger.Config `json:"log" mapstructure:"log"`
}

// Validate checks the fields required to spawn the service.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("service %q: command is required", s.Name)
	}
	for _, kv := range s.Env {
		if i := strings.IndexByte(kv, '='); i <= 0 {
			return fmt.Errorf("service %q: malformed env entry %q", s.Name, kv)
		}
	}
	return nil
}

// DeepCopy returns a copy that shares no slices with s.
func (s *Spec) DeepCopy() *Spec {
	if s == nil {
		return nil
	}
	c := *s
	c.Args = slices.Clone(s.Args)
	c.Env = slices.Clone(s.Env)
	return &c
}

// BuildCommand constructs an *exec.Cmd for the spec.
// With explicit Args the program runs directly. Otherwise Command is split on
// whitespace, or handed to the platform shell when it contains shell syntax or
// already starts with an explicit "sh -c".
func (s *Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script after "-c " with one pair of wrapping quotes removed.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return strings.Fields(p)[0], after, true
	}
	return "", "", false
}
