package keybase

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/kbsession/internal/log"
)

// ListenerID identifies a background listener owned by a Session.
type ListenerID string

type listener struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// listenerKey marks the context handed to a listener so Cancel and
// Shutdown can tell when they are called from inside that listener.
type listenerKey struct{}

type listenerIdentity struct {
	set *listenerSet
	id  ListenerID
}

// listenerSet owns the background tasks of one Session. Every task gets a
// context derived from the set's root, so closing the set cancels them all.
type listenerSet struct {
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	handles   map[ListenerID]*listener
	closed    bool
	closeOnce sync.Once
}

func newListenerSet() *listenerSet {
	ctx, cancel := context.WithCancel(context.Background())
	return &listenerSet{
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[ListenerID]*listener),
	}
}

func (ls *listenerSet) start(name string, fn func(ctx context.Context)) (ListenerID, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return "", ErrSessionClosed
	}

	id := ListenerID(uuid.NewString())
	ctx, cancel := context.WithCancel(ls.ctx)
	ctx = context.WithValue(ctx, listenerKey{}, listenerIdentity{set: ls, id: id})
	l := &listener{name: name, cancel: cancel, done: make(chan struct{})}
	ls.handles[id] = l

	go func() {
		defer close(l.done)
		defer ls.forget(id)
		defer cancel()
		fn(ctx)
	}()

	log.Debug(log.CatSession, "Listener started", "id", id, "name", name)
	return id, nil
}

// self returns the listener of this set whose context ctx is, if any.
func (ls *listenerSet) self(ctx context.Context) (ListenerID, bool) {
	who, ok := ctx.Value(listenerKey{}).(listenerIdentity)
	if !ok || who.set != ls {
		return "", false
	}
	return who.id, true
}

func (ls *listenerSet) forget(id ListenerID) {
	ls.mu.Lock()
	delete(ls.handles, id)
	ls.mu.Unlock()
}

func (ls *listenerSet) stop(ctx context.Context, id ListenerID) bool {
	ls.mu.Lock()
	l, ok := ls.handles[id]
	ls.mu.Unlock()
	if !ok {
		return false
	}

	l.cancel()
	if self, inside := ls.self(ctx); inside && self == id {
		// The listener is stopping itself; it finishes when it returns.
		log.Debug(log.CatSession, "Listener cancelled itself", "id", id, "name", l.name)
		return true
	}

	select {
	case <-l.done:
		log.Debug(log.CatSession, "Listener stopped", "id", id, "name", l.name)
	case <-ctx.Done():
	}
	return true
}

func (ls *listenerSet) count() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.handles)
}

func (ls *listenerSet) isClosed() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.closed
}

// close stops new listeners and cancels every running one. It reports
// whether this call did the closing.
func (ls *listenerSet) close() bool {
	first := false
	ls.closeOnce.Do(func() {
		first = true
		ls.mu.Lock()
		ls.closed = true
		ls.mu.Unlock()
		ls.cancel()
	})
	return first
}

// wait blocks until every running listener has returned, skipping the
// caller when ctx belongs to one of them. It returns ctx.Err() if ctx is
// done first.
func (ls *listenerSet) wait(ctx context.Context) error {
	self, inside := ls.self(ctx)
	if inside {
		// Closing the set cancelled the caller's own context.
		ctx = context.WithoutCancel(ctx)
	}

	ls.mu.Lock()
	pending := make([]*listener, 0, len(ls.handles))
	for id, l := range ls.handles {
		if inside && id == self {
			continue
		}
		pending = append(pending, l)
	}
	ls.mu.Unlock()

	for _, l := range pending {
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Go runs fn in the background until it returns or its context is
// cancelled by Cancel, Shutdown or Close. What fn listens to is up to the
// caller.
func (s *Session) Go(name string, fn func(ctx context.Context)) (ListenerID, error) {
	return s.listeners.start(name, fn)
}

// Cancel stops one listener and waits for it to return, or until ctx is
// done. A listener may cancel itself by passing its own context; that call
// returns without waiting. Cancel reports false when id is unknown or
// already finished.
func (s *Session) Cancel(ctx context.Context, id ListenerID) bool {
	return s.listeners.stop(ctx, id)
}

// Listeners returns the number of running background listeners.
func (s *Session) Listeners() int {
	return s.listeners.count()
}
