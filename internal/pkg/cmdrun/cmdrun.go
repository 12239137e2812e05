// Package cmdrun wraps subprocess invocation for the object store's
// CLI-backed Store implementation: every "ostree"/"ostree admin" call
// goes through here so cancellation and child-process lifecycle are
// handled in one place.
package cmdrun

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Synchronously invoke a command, passing both stdout and stderr
// through, tying the child's lifetime to the caller via Pdeathsig.
func RunCmdSync(cmdName string, args ...string) error {
	cmd := exec.Command(cmdName, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("error running %s %s: %w", cmdName, strings.Join(args, " "), err)
	}

	return nil
}

// Output runs cmdName with args, cancellable via ctx, and returns its
// captured stdout. On failure the error wraps stderr so callers don't
// need to special-case *exec.ExitError to get a useful message.
func Output(ctx context.Context, cmdName string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, cmdName, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("error running %s %s: %w\n%s", cmdName, strings.Join(args, " "), err, stderr.String())
	}
	return out, nil
}

// Run runs cmdName with args, cancellable via ctx, discarding stdout
// but reporting stderr on failure.
func Run(ctx context.Context, cmdName string, args ...string) error {
	_, err := Output(ctx, cmdName, args...)
	return err
}
