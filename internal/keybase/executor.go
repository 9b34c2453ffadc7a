package keybase

import (
	"context"
	"os/exec"
)

// Request is a single invocation of the keybase binary.
type Request struct {
	Args []string
	// Stdin is written in full to the child and then closed.
	// When nil the child's stdin is the null device.
	Stdin *string
}

// Subcommand returns the first argument, used for logging and error context.
func (r Request) Subcommand() string {
	if len(r.Args) == 0 {
		return ""
	}
	return r.Args[0]
}

// Executor runs keybase subcommands.
// Implementations spawn exactly one child per call and never retry.
type Executor interface {
	// Exec runs the binary at path with req and returns its stdout as text.
	// Output is only returned when the child exits zero.
	Exec(ctx context.Context, path string, req Request) (string, error)
}

// CommandFactoryFunc creates an exec.Cmd. Tests use it to substitute the
// spawned program without touching PATH.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Argument vectors for the subcommands this package drives.
var (
	statusArgs  = []string{"status", "-j"}
	versionArgs = []string{"version", "-S", "-f", "s"}
	logoutArgs  = []string{"logout"}
)

func oneshotArgs(username string) []string {
	return []string{"oneshot", "-u", username}
}
