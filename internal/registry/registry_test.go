package registry_test

import (
	"fmt"
	"testing"

	"github.com/relaychat/chatserver/internal/chatmodel"
	"github.com/relaychat/chatserver/internal/registry"
)

type fakeSender struct{ id string }

func (f *fakeSender) Send(tag, payload string) error { return nil }
func (f *fakeSender) Close() error                    { return nil }

type allowAllLimiter struct{}

func (allowAllLimiter) TryAdmit(ip, connID string) error { return nil }
func (allowAllLimiter) Release(ip, connID string)        {}

func TestAdd_ThreeMapConsistency(t *testing.T) {
	r := registry.New(allowAllLimiter{}, 50)

	s := &fakeSender{id: "a"}
	session, err := r.Add(s, "127.0.0.1:1", "127.0.0.1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := r.Get(session.ConnectionID)
	if !ok || got.User.Username != "alice" {
		t.Fatalf("registry inconsistent after add: %+v", got)
	}

	entries := r.UserList()
	if len(entries) != 1 || entries[0].Username != "alice" {
		t.Fatalf("unexpected user list: %+v", entries)
	}
}

func TestUpdateUsername_ConflictResolution(t *testing.T) {
	r := registry.New(allowAllLimiter{}, 50)

	s1, _ := r.Add(&fakeSender{id: "1"}, "1.1.1.1:1", "1.1.1.1", "alice")
	s2, _ := r.Add(&fakeSender{id: "2"}, "2.2.2.2:1", "2.2.2.2", "bob")

	ok, old := r.UpdateUsername(s2.ConnectionID, "alice")
	if !ok || old != "bob" {
		t.Fatalf("expected successful rename, got ok=%v old=%q", ok, old)
	}

	got, _ := r.Get(s2.ConnectionID)
	if got.User.Username != "alice_2" {
		t.Fatalf("expected conflict-resolved name alice_2, got %q", got.User.Username)
	}

	got1, _ := r.Get(s1.ConnectionID)
	if got1.User.Username != "alice" {
		t.Fatalf("original alice should be untouched, got %q", got1.User.Username)
	}
}

func TestUpdateUsername_IdempotentRenameIsNoop(t *testing.T) {
	r := registry.New(allowAllLimiter{}, 50)

	s, _ := r.Add(&fakeSender{id: "1"}, "1.1.1.1:1", "1.1.1.1", "alice")

	ok, old := r.UpdateUsername(s.ConnectionID, "alice")
	if !ok || old != "alice" {
		t.Fatalf("expected no-op rename to succeed, got ok=%v old=%q", ok, old)
	}

	got, _ := r.Get(s.ConnectionID)
	if got.User.Username != "alice" {
		t.Fatalf("expected unchanged username, got %q", got.User.Username)
	}
}

func TestRemove_IsIdempotent(t *testing.T) {
	r := registry.New(allowAllLimiter{}, 50)

	s, _ := r.Add(&fakeSender{id: "1"}, "1.1.1.1:1", "1.1.1.1", "alice")

	if !r.Remove(s.ConnectionID) {
		t.Fatal("expected first remove to succeed")
	}
	if r.Remove(s.ConnectionID) {
		t.Fatal("expected second remove of absent connection to return false")
	}
	if r.Remove("never-existed") {
		t.Fatal("expected remove of unknown id to return false")
	}
}

func TestHistory_BoundedFIFO_ChatOnly(t *testing.T) {
	r := registry.New(allowAllLimiter{}, 3)

	for i := 0; i < 5; i++ {
		r.AddToHistory(chatmodel.Message{Content: fmt.Sprintf("m%d", i), Type: chatmodel.MessageChat})
	}
	r.AddToHistory(chatmodel.Message{Content: "server note", Type: chatmodel.MessageServer})

	hist := r.History(10)
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	if hist[0].Content != "m2" || hist[2].Content != "m4" {
		t.Fatalf("expected FIFO eviction of oldest, got %+v", hist)
	}
}

func TestAdd_DuplicateSocketIsError(t *testing.T) {
	r := registry.New(allowAllLimiter{}, 50)

	s := &fakeSender{id: "1"}
	if _, err := r.Add(s, "1.1.1.1:1", "1.1.1.1", "alice"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := r.Add(s, "1.1.1.1:1", "1.1.1.1", "bob"); err == nil {
		t.Fatal("expected duplicate socket add to fail")
	}
}

func TestConcurrentAdmitsDistinctIPs(t *testing.T) {
	r := registry.New(allowAllLimiter{}, 50)

	const n = 25
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			s := &fakeSender{id: fmt.Sprintf("s%d", i)}
			_, err := r.Add(s, fmt.Sprintf("10.0.0.%d:1", i), fmt.Sprintf("10.0.0.%d", i), fmt.Sprintf("user%d", i))
			results <- err == nil
		}(i)
	}

	successes := 0
	for i := 0; i < n; i++ {
		if <-results {
			successes++
		}
	}

	if successes != n {
		t.Fatalf("expected all %d admits to succeed, got %d", n, successes)
	}
}
