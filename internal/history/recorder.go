package history

import (
	"context"
	"time"

	"github.com/zjrosen/kbsession/internal/keybase"
	"github.com/zjrosen/kbsession/internal/log"
	"github.com/zjrosen/kbsession/internal/pubsub"
)

// Attach records the session's current status and then every status
// replacement, running as one of the session's background listeners.
// Cancelling the listener (or closing the session) stops recording after
// the already-published replacements are written.
func Attach(s *keybase.Session, store *Store) (keybase.ListenerID, error) {
	// Subscribe before the listener starts so no replacement slips between.
	subCtx, cancel := context.WithCancel(context.Background())
	events := s.Subscribe(subCtx)
	initial := pubsub.Event[keybase.StatusResponse]{
		Type:      pubsub.InitializedEvent,
		Payload:   s.Status(),
		Timestamp: time.Now(),
	}

	record := func(ev pubsub.Event[keybase.StatusResponse]) {
		if _, err := store.Record(context.Background(), string(ev.Type), ev.Payload, ev.Timestamp); err != nil {
			log.ErrorErr(log.CatHistory, "Failed to record status", err, "op", ev.Type)
		}
	}

	id, err := s.Go("history", func(ctx context.Context) {
		defer cancel()
		record(initial)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				record(ev)
			case <-ctx.Done():
				drain(events, record)
				return
			}
		}
	})
	if err != nil {
		cancel()
		return "", err
	}
	return id, nil
}

// drain records whatever is already buffered without waiting for more.
func drain(events <-chan pubsub.Event[keybase.StatusResponse], record func(pubsub.Event[keybase.StatusResponse])) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			record(ev)
		default:
			return
		}
	}
}
