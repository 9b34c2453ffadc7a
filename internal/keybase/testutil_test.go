package keybase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeKeybaseScript emulates the subcommands a Session drives. State lives
// in files under dir so login and logout persist across invocations:
//
//	logged_in   present while logged in, holds the username
//	paperkey    the paperkey oneshot accepts
//	<sub>_exit  forces <sub> to exit with the code it holds
//	<sub>_calls one line per invocation of <sub>
const fakeKeybaseScript = `#!/bin/sh
dir='%s'
echo x >> "$dir/$1_calls"
if [ "$1" = "oneshot" ]; then
	key=$(cat)
fi
if [ -f "$dir/$1_exit" ]; then
	echo "forced failure for $1" >&2
	exit "$(cat "$dir/$1_exit")"
fi
case "$1" in
status)
	if [ -f "$dir/logged_in" ]; then
		printf '{"Username":"%%s","LoggedIn":true,"Device":{"type":"desktop","name":"laptop","deviceID":"d3v1c3","status":1}}\n' "$(cat "$dir/logged_in")"
	else
		printf '{"Username":"","LoggedIn":false,"Device":null}\n'
	fi
	;;
version)
	echo "6.2.4-20230530213535+7ba3d6d4b2"
	;;
logout)
	rm -f "$dir/logged_in"
	;;
oneshot)
	if [ "$2" != "-u" ] || [ -z "$3" ]; then
		echo "usage: oneshot -u <username>" >&2
		exit 2
	fi
	if [ "$key" != "$(cat "$dir/paperkey")" ]; then
		echo "bad paperkey" >&2
		exit 1
	fi
	printf '%%s' "$3" > "$dir/logged_in"
	;;
*)
	echo "unknown command: $1" >&2
	exit 2
	;;
esac
`

type fakeKeybase struct {
	t    *testing.T
	dir  string
	path string
}

// newFakeKeybase installs a fake keybase binary accepting paperkey.
func newFakeKeybase(t *testing.T, paperkey string) *fakeKeybase {
	t.Helper()

	dir := t.TempDir()
	f := &fakeKeybase{t: t, dir: dir}
	f.path = writeScript(t, dir, BinaryName, fmt.Sprintf(fakeKeybaseScript, dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paperkey"), []byte(paperkey), 0o600))
	return f
}

func (f *fakeKeybase) setLoggedIn(username string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, "logged_in"), []byte(username), 0o600))
}

func (f *fakeKeybase) isLoggedIn() bool {
	_, err := os.Stat(filepath.Join(f.dir, "logged_in"))
	return err == nil
}

func (f *fakeKeybase) failWith(sub string, code int) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, sub+"_exit"), []byte(fmt.Sprint(code)), 0o600))
}

func (f *fakeKeybase) clearFailure(sub string) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(filepath.Join(f.dir, sub+"_exit")))
}

func (f *fakeKeybase) calls(sub string) int {
	data, err := os.ReadFile(filepath.Join(f.dir, sub+"_calls"))
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "\n")
}

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	skipIfNoShell(t)

	path := filepath.Join(dir, name)
	//nolint:gosec // G306: test scripts must be executable
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake keybase scripts need /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// newTestSession builds a Session against a fake keybase.
func newTestSession(t *testing.T, f *fakeKeybase, username, paperkey string, opts ...Option) *Session {
	t.Helper()

	opts = append([]Option{WithBinaryPath(f.path)}, opts...)
	s, err := New(context.Background(), Credentials{Username: username, Paperkey: Secret(paperkey)}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stubExecutor answers requests in-process and records whether two
// executions ever overlapped.
type stubExecutor struct {
	mu      sync.Mutex
	calls   []Request
	handler func(req Request) (string, error)
	delay   time.Duration

	inflight atomic.Int32
	overlap  atomic.Bool
}

func (e *stubExecutor) Exec(ctx context.Context, path string, req Request) (string, error) {
	if e.inflight.Add(1) > 1 {
		e.overlap.Store(true)
	}
	defer e.inflight.Add(-1)

	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.mu.Unlock()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.handler(req)
}

func (e *stubExecutor) subcommands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := make([]string, 0, len(e.calls))
	for _, c := range e.calls {
		subs = append(subs, c.Subcommand())
	}
	return subs
}

const (
	statusLoggedOut = `{"Username":"","LoggedIn":false,"Device":null}`
	statusLoggedIn  = `{"Username":"alice","LoggedIn":true,"Device":{"type":"desktop","name":"laptop","deviceID":"d3v1c3","status":1}}`
)
