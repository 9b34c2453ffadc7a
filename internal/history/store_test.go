package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kbsession/internal/keybase"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var loggedIn = keybase.StatusResponse{
	Username: "alice",
	LoggedIn: true,
	Device:   keybase.DeviceInfo{Type: "desktop", Name: "laptop", DeviceID: "d3v1c3", Provisioned: true},
}

func TestStore_RecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := store.Record(ctx, "initialize", keybase.StatusResponse{}, base)
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.NotEmpty(t, first.GUID)

	_, err = store.Record(ctx, "login", loggedIn, base.Add(time.Second))
	require.NoError(t, err)

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "login", entries[0].Operation)
	require.Equal(t, loggedIn, entries[0].Status)
	require.True(t, entries[0].RecordedAt.Equal(base.Add(time.Second)))

	require.Equal(t, "initialize", entries[1].Operation)
	require.Equal(t, keybase.StatusResponse{}, entries[1].Status)
	require.Equal(t, first.GUID, entries[1].GUID)
}

func TestStore_ListLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := range 5 {
		_, err := store.Record(ctx, "refresh", loggedIn, base.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
	}

	entries, err := store.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, entries[0].RecordedAt.After(entries[2].RecordedAt))
}

func TestStore_SameTimestampNewestIDFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Now()

	_, err := store.Record(ctx, "logout", keybase.StatusResponse{}, at)
	require.NoError(t, err)
	_, err = store.Record(ctx, "login", loggedIn, at)
	require.NoError(t, err)

	entries, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "login", entries[0].Operation)
}

func TestStore_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Record(ctx, "login", loggedIn, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_EmptyList(t *testing.T) {
	entries, err := openTestStore(t).List(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// toggleExecutor keeps a logged-in flag that oneshot sets and logout clears.
type toggleExecutor struct {
	mu       sync.Mutex
	loggedIn bool
}

func (e *toggleExecutor) Exec(_ context.Context, _ string, req keybase.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch req.Subcommand() {
	case "oneshot":
		e.loggedIn = true
	case "logout":
		e.loggedIn = false
	}
	if e.loggedIn {
		return `{"Username":"alice","LoggedIn":true,"Device":{"type":"desktop","name":"laptop","deviceID":"d3v1c3","status":1}}`, nil
	}
	return `{"Username":"","LoggedIn":false,"Device":null}`, nil
}

func TestAttach_RecordsTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s, err := keybase.New(ctx, keybase.Credentials{Username: "alice", Paperkey: "words"},
		keybase.WithBinaryPath("/opt/keybase"), keybase.WithExecutor(&toggleExecutor{}))
	require.NoError(t, err)

	_, err = Attach(s, store)
	require.NoError(t, err)

	require.NoError(t, s.Login(ctx))
	require.NoError(t, s.Logout(ctx))

	// Close joins the recorder after it writes what was already published.
	require.NoError(t, s.Close())

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	ops := []string{entries[2].Operation, entries[1].Operation, entries[0].Operation}
	require.Equal(t, []string{"initialize", "login", "logout"}, ops)
	require.True(t, entries[1].Status.LoggedIn)
	require.False(t, entries[0].Status.LoggedIn)
}

func TestAttach_CancelStopsRecording(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s, err := keybase.New(ctx, keybase.Credentials{Username: "alice"},
		keybase.WithBinaryPath("/opt/keybase"), keybase.WithExecutor(&toggleExecutor{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	id, err := Attach(s, store)
	require.NoError(t, err)
	require.True(t, s.Cancel(ctx, id))

	require.NoError(t, s.Refresh(ctx))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "initialize", entries[0].Operation)
}

func TestAttach_ClosedSession(t *testing.T) {
	store := openTestStore(t)

	s, err := keybase.New(context.Background(), keybase.Credentials{Username: "alice"},
		keybase.WithBinaryPath("/opt/keybase"), keybase.WithExecutor(&toggleExecutor{}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Attach(s, store)
	require.ErrorIs(t, err, keybase.ErrSessionClosed)
}
