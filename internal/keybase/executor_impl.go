package keybase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/kbsession/internal/log"
	"github.com/zjrosen/kbsession/internal/tracing"
)

// DefaultWaitDelay bounds how long Exec waits for the child's pipes to
// drain after the context is cancelled and the child is killed.
const DefaultWaitDelay = 2 * time.Second

// maxStderrTail caps how much of the child's stderr is kept for errors.
const maxStderrTail = 2048

// Compile-time check that RealExecutor implements Executor.
var _ Executor = (*RealExecutor)(nil)

// RealExecutor implements Executor by spawning real processes.
type RealExecutor struct {
	commandFactory CommandFactoryFunc
	tracer         trace.Tracer
	waitDelay      time.Duration
}

// ExecutorOption configures a RealExecutor.
type ExecutorOption func(*RealExecutor)

// WithCommandFactory overrides how commands are created.
func WithCommandFactory(fn CommandFactoryFunc) ExecutorOption {
	return func(e *RealExecutor) {
		e.commandFactory = fn
	}
}

// WithTracer sets the tracer used for execution spans.
// Defaults to the global OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *RealExecutor) {
		e.tracer = t
	}
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) ExecutorOption {
	return func(e *RealExecutor) {
		e.waitDelay = d
	}
}

// NewRealExecutor creates a new RealExecutor.
func NewRealExecutor(opts ...ExecutorOption) *RealExecutor {
	e := &RealExecutor{
		waitDelay: DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracing.TracerName)
	}
	return e
}

// Exec spawns path with req.Args, feeds req.Stdin and collects stdout.
// A non-zero exit is always an error regardless of stdout. On a zero exit,
// stdout must be valid UTF-8.
func (e *RealExecutor) Exec(ctx context.Context, path string, req Request) (out string, err error) {
	op := req.Subcommand()
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, tracing.SpanExec,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(tracing.AttrSubcommand, op),
			attribute.Int(tracing.AttrArgsCount, len(req.Args)),
			attribute.Bool(tracing.AttrStdin, req.Stdin != nil),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err).String())
			log.Error(log.CatKeybase, "keybase exec failed", "subcommand", op, "error", err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		log.Debug(log.CatKeybase, "keybase exec completed", "subcommand", op, "duration", time.Since(start))
	}()

	cmd := e.command(ctx, path, req.Args)
	cmd.WaitDelay = e.waitDelay

	// Both buffers are wired before Start, so the child never sees the
	// caller's stdout or stderr.
	var stdout bytes.Buffer
	stderr := &tailWriter{max: maxStderrTail}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	if req.Stdin != nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return "", &Error{Kind: KindProcessSpawnFailed, Op: op, Path: path, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		if stdin != nil {
			_ = stdin.Close()
		}
		return "", &Error{Kind: KindProcessSpawnFailed, Op: op, Path: path, Err: err}
	}
	span.SetAttributes(attribute.Int(tracing.AttrProcessPID, cmd.Process.Pid))

	var writeErr error
	if stdin != nil {
		_, writeErr = io.WriteString(stdin, *req.Stdin)
		if closeErr := stdin.Close(); writeErr == nil {
			writeErr = closeErr
		}
	}

	waitErr := cmd.Wait()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	span.SetAttributes(attribute.Int(tracing.AttrExitCode, exitCode))

	if writeErr != nil {
		return "", &Error{
			Kind:     KindStdinWriteFailed,
			Op:       op,
			Path:     path,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      withContextErr(ctx, writeErr),
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) || ctx.Err() != nil {
			return "", &Error{
				Kind:     KindNonZeroExit,
				Op:       op,
				Path:     path,
				ExitCode: exitCode,
				Stderr:   stderr.String(),
				Err:      withContextErr(ctx, waitErr),
			}
		}
		// Exit was clean but the pipes failed (e.g. exec.ErrWaitDelay).
		return "", &Error{Kind: KindProcessSpawnFailed, Op: op, Path: path, Err: waitErr}
	}

	if !utf8.Valid(stdout.Bytes()) {
		return "", &Error{
			Kind: KindInvalidTextEncoding,
			Op:   op,
			Path: path,
			Err:  fmt.Errorf("stdout is not valid UTF-8 (%d bytes)", stdout.Len()),
		}
	}

	return stdout.String(), nil
}

func (e *RealExecutor) command(ctx context.Context, path string, args []string) *exec.Cmd {
	if e.commandFactory != nil {
		return e.commandFactory(ctx, path, args...)
	}
	//nolint:gosec // G204: path is the resolved keybase binary, args are fixed vectors
	return exec.CommandContext(ctx, path, args...)
}

// withContextErr joins the context error onto err when the call was
// cancelled, so errors.Is(err, context.Canceled) holds for callers.
func withContextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	buf []byte
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return strings.TrimSpace(strings.ToValidUTF8(string(w.buf), "�"))
}
