package core

import (
	"testing"
	"time"
)

const eventWait = 2 * time.Second

// mustEvent reads from a client's outbound stream until an event of kind
// shows up. A closed stream means the hub evicted the client, which fails
// the test.
func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	timeout := time.NewTimer(eventWait)
	defer timeout.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed while waiting for %s", kind)
			}
			if ev != nil && ev.Kind == kind {
				return ev
			}
		case <-timeout.C:
			t.Fatalf("no %s event within %s", kind, eventWait)
			return nil
		}
	}
}

// mustNoEvent fails if any of the clients has something queued.
func mustNoEvent(t *testing.T, clients ...*Client) {
	t.Helper()

	for _, c := range clients {
		select {
		case ev, ok := <-c.Events:
			if !ok {
				t.Fatalf("client %s was evicted", c.Name)
			}
			t.Fatalf("client %s received %s from %q", c.Name, ev.Kind, ev.From)
		default:
		}
	}
}
