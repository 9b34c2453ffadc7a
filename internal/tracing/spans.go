package tracing

// TracerName is the instrumentation scope for keybase execution spans.
const TracerName = "github.com/zjrosen/kbsession/internal/keybase"

// Span names.
const (
	SpanExec    = "keybase.exec"
	SpanSession = "keybase.session."
)

// Span attribute keys.
const (
	AttrSubcommand = "keybase.subcommand"
	AttrArgsCount  = "keybase.args_count"
	// AttrStdin records whether a stdin payload was sent, never the payload.
	AttrStdin      = "keybase.stdin"
	AttrProcessPID = "process.pid"
	AttrExitCode   = "process.exit_code"
	AttrUsername   = "keybase.username"
	AttrLoggedIn   = "keybase.logged_in"
)
