package monitor

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestSequence_NextIsMonotonic(t *testing.T) {
	var seq sequence
	a := seq.next()
	b := seq.next()
	if b != a+1 {
		t.Fatalf("expected consecutive ids, got %d then %d", a, b)
	}
}

func TestEventBuffer_SinceReturnsOnlyNewer(t *testing.T) {
	eb := newEventBuffer(10, time.Hour)
	defer eb.Stop()

	for i := uint64(1); i <= 3; i++ {
		eb.Append(&Event{Type: EventJoin, ID: i, Time: time.Now()})
	}

	got := eb.Since(1)
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("unexpected Since(1) result: %+v", got)
	}

	if eb.OldestID() != 1 {
		t.Fatalf("OldestID() = %d, want 1", eb.OldestID())
	}
}

func TestEventBuffer_EvictsPastMaxLen(t *testing.T) {
	eb := newEventBuffer(2, time.Hour)
	defer eb.Stop()

	eb.Append(&Event{Type: EventJoin, ID: 1, Time: time.Now()})
	eb.Append(&Event{Type: EventJoin, ID: 2, Time: time.Now()})
	eb.Append(&Event{Type: EventJoin, ID: 3, Time: time.Now()})

	if eb.OldestID() != 2 {
		t.Fatalf("OldestID() = %d, want 2 after eviction", eb.OldestID())
	}
}

func TestHub_RegisterAndBroadcastEvent(t *testing.T) {
	hub := NewHub(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient(hub, nil)
	hub.Register(client)

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("client never registered, count = %d", hub.ClientCount())
	}

	hub.BroadcastEvent(EventJoin, json.RawMessage(`{"conn_id":"c1"}`))

	select {
	case msg := <-client.send:
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("unmarshal broadcast event: %v", err)
		}
		if evt.Type != EventJoin {
			t.Fatalf("evt.Type = %q, want %q", evt.Type, EventJoin)
		}
	case <-time.After(time.Second):
		t.Fatal("client never received broadcast event")
	}

	hub.Unregister(client)
	deadline = time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("client never unregistered, count = %d", hub.ClientCount())
	}
}
