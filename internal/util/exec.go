package util

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// LookPath is swapped out by tests that simulate a missing binary.
var LookPath = exec.LookPath

// RequireBinary verifies the binary is on PATH.
func RequireBinary(name string) error {
	if _, err := LookPath(name); err != nil {
		return fmt.Errorf("required binary not found: %s", name)
	}
	return nil
}

// Command builds an exec.Cmd inheriting the process environment plus env,
// applied in key order so the result is stable.
func Command(ctx context.Context, name string, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return cmd
}
