package keybase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/kbsession/internal/cachemanager"
	"github.com/zjrosen/kbsession/internal/log"
	"github.com/zjrosen/kbsession/internal/pubsub"
	"github.com/zjrosen/kbsession/internal/tracing"
)

// DefaultVersionCacheTTL is how long Version reuses a previous answer.
const DefaultVersionCacheTTL = 10 * time.Minute

// ErrSessionClosed is returned by operations on a closed Session.
var ErrSessionClosed = errors.New("keybase: session closed")

// Session is one relationship with the local keybase tool: the account it
// logs in as, the binary it drives and the last status it observed.
//
// The stored status only changes after a successful status query; Login
// and Logout never update it optimistically. Transitions are serialized
// per Session, while Status reads a snapshot and never waits for a
// running subprocess.
type Session struct {
	creds    Credentials
	path     string
	executor Executor
	tracer   trace.Tracer
	timeout  time.Duration

	// opMu serializes Login, Logout and Refresh.
	opMu sync.Mutex

	mu     sync.RWMutex
	status StatusResponse

	broker    *pubsub.Broker[StatusResponse]
	versions  *cachemanager.ReadThroughCache[string, string, string]
	listeners *listenerSet
}

// Option configures New.
type Option func(*options)

type options struct {
	path       string
	executor   Executor
	tracer     trace.Tracer
	timeout    time.Duration
	versionTTL time.Duration
}

// WithBinaryPath skips PATH resolution. The path is not checked up front;
// the initial status query in New is where a bad path fails.
func WithBinaryPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithExecutor replaces the RealExecutor.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithSessionTracer sets the tracer used for transition spans.
func WithSessionTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithTimeout bounds every single execution. Zero means no bound beyond
// the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithVersionCacheTTL overrides DefaultVersionCacheTTL.
func WithVersionCacheTTL(d time.Duration) Option {
	return func(o *options) {
		o.versionTTL = d
	}
}

// New resolves the keybase binary (unless WithBinaryPath is given), runs
// one status query and returns the Session. A Session never exists
// without a successful first status query.
func New(ctx context.Context, creds Credentials, opts ...Option) (*Session, error) {
	o := options{versionTTL: DefaultVersionCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.executor == nil {
		o.executor = NewRealExecutor()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracing.TracerName)
	}

	path := o.path
	if path == "" {
		var err error
		if path, err = FindKeybase(ctx); err != nil {
			return nil, err
		}
	}

	s := &Session{
		creds:    creds,
		path:     path,
		executor: o.executor,
		tracer:   o.tracer,
		timeout:  o.timeout,
	}

	status, err := s.queryStatus(ctx)
	if err != nil {
		log.ErrorErr(log.CatSession, "Session initialization failed", err, "path", path)
		return nil, err
	}

	s.status = status
	s.broker = pubsub.NewBroker[StatusResponse]()
	s.versions = cachemanager.NewReadThroughCache[string, string, string](
		cachemanager.NewInMemoryCacheManager[string, string]("keybase-version", o.versionTTL, 2*o.versionTTL),
		s.queryVersion,
		false,
	)
	s.listeners = newListenerSet()

	log.Info(log.CatSession, "Session initialized",
		"username", creds.Username,
		"path", path,
		"loggedIn", status.LoggedIn)
	return s, nil
}

// Login runs `oneshot -u <username>` with the paperkey on stdin, then
// re-queries status. The stored status reflects whatever keybase reports
// afterwards; a successful exit alone is not taken as logged in.
func (s *Session) Login(ctx context.Context) error {
	payload := s.creds.Paperkey.reveal()
	return s.transition(ctx, pubsub.LoginEvent, Request{
		Args:  oneshotArgs(s.creds.Username),
		Stdin: &payload,
	})
}

// Logout runs `logout`, then re-queries status.
func (s *Session) Logout(ctx context.Context) error {
	return s.transition(ctx, pubsub.LogoutEvent, Request{Args: logoutArgs})
}

// Refresh re-queries status without running any other subcommand.
func (s *Session) Refresh(ctx context.Context) error {
	return s.transition(ctx, pubsub.RefreshEvent, Request{})
}

// transition runs req (when it has arguments) and then replaces the status.
// On any failure the stored status is left as it was.
func (s *Session) transition(ctx context.Context, op pubsub.EventType, req Request) (err error) {
	if s.listeners.isClosed() {
		return ErrSessionClosed
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, span := s.tracer.Start(ctx, tracing.SpanSession+string(op),
		trace.WithAttributes(attribute.String(tracing.AttrUsername, s.creds.Username)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err).String())
		}
		span.End()
	}()

	if len(req.Args) > 0 {
		if _, err := s.run(ctx, req); err != nil {
			log.ErrorErr(log.CatSession, "Transition failed", err, "op", op, "username", s.creds.Username)
			return err
		}
	}

	status, err := s.queryStatus(ctx)
	if err != nil {
		log.ErrorErr(log.CatSession, "Status re-query failed", err, "op", op)
		return err
	}

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	span.SetAttributes(attribute.Bool(tracing.AttrLoggedIn, status.LoggedIn))
	s.broker.Publish(op, status)

	log.Info(log.CatSession, "Status replaced", "op", op, "loggedIn", status.LoggedIn, "username", status.Username)
	return nil
}

func (s *Session) queryStatus(ctx context.Context) (StatusResponse, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return QueryStatus(ctx, s.executor, s.path)
}

func (s *Session) run(ctx context.Context, req Request) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.executor.Exec(ctx, s.path, req)
}

// bound applies the per-execution timeout.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

// Version returns the keybase version string, cached per binary path.
func (s *Session) Version(ctx context.Context) (string, error) {
	return s.versions.Get(ctx, s.path, s.path, cachemanager.UseDefaultTTL)
}

func (s *Session) queryVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	version, err := QueryVersion(ctx, s.executor, path)
	if err != nil {
		return "", err
	}
	log.Debug(log.CatSession, "Queried keybase version", "version", version)
	return version, nil
}

// CheckVersion fails when the installed keybase is older than minVersion.
func (s *Session) CheckVersion(ctx context.Context, minVersion string) error {
	version, err := s.Version(ctx)
	if err != nil {
		return err
	}
	return CheckVersion(version, minVersion)
}

// Status returns the last observed status.
func (s *Session) Status() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LoggedIn reports the LoggedIn flag of the last observed status.
func (s *Session) LoggedIn() bool {
	return s.Status().LoggedIn
}

// Username returns the account this session logs in as.
func (s *Session) Username() string {
	return s.creds.Username
}

// BinaryPath returns the keybase executable this session drives.
func (s *Session) BinaryPath() string {
	return s.path
}

// Subscribe delivers every status replacement, tagged with the operation
// that produced it. The channel closes when ctx is done or on Close.
func (s *Session) Subscribe(ctx context.Context) <-chan pubsub.Event[StatusResponse] {
	return s.broker.Subscribe(ctx)
}

// Shutdown cancels all background listeners, waits for them to return
// and closes status subscriptions. If ctx is done first, Shutdown returns
// ctx.Err() and listeners still running finish on their own. A listener
// may shut its Session down by passing its own context; it is not waited
// for. Safe to call more than once.
func (s *Session) Shutdown(ctx context.Context) error {
	first := s.listeners.close()
	err := s.listeners.wait(ctx)
	if first {
		s.broker.Close()
		s.versions.Invalidate(context.Background())
		log.Debug(log.CatSession, "Session closed", "username", s.creds.Username)
	}
	return err
}

// Close is Shutdown without a deadline. Listeners must use Shutdown with
// their own context instead.
func (s *Session) Close() error {
	return s.Shutdown(context.Background())
}

// String never includes the paperkey.
func (s *Session) String() string {
	status := s.Status()
	return fmt.Sprintf("Session{username: %s, path: %s, loggedIn: %t, device: %q, listeners: %d}",
		s.creds.Username, s.path, status.LoggedIn, status.Device.Name, s.Listeners())
}

// GoString makes %#v use String, keeping the paperkey out of it.
func (s *Session) GoString() string {
	return s.String()
}
