package discovery_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaychat/chatserver/internal/discovery"
)

func TestSentinelValue(t *testing.T) {
	if discovery.Sentinel != "PYTHON_CHAT_SERVER_DISCOVERY_V1" {
		t.Fatalf("unexpected sentinel: %q", discovery.Sentinel)
	}
}

func TestBeacon_RunStopsOnContextCancel(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	b := discovery.New(19999, 20*time.Millisecond, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("beacon did not stop after context cancellation")
	}
}

func TestBeacon_RunReturnsNilOnPreCanceledContext(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	// Occupy an ephemeral UDP port, then point a beacon at the next port
	// with an already-canceled context: Run must open its own socket,
	// send once, and return nil without error.
	occupied, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	b := discovery.New(occupied.LocalAddr().(*net.UDPAddr).Port+1, 10*time.Millisecond, log)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("expected immediate clean return on pre-canceled context, got %v", err)
	}
}
