// Package discovery implements the LAN service-discovery beacon (C9): a
// fixed sentinel broadcast over UDP so clients on the same subnet can
// learn the server's reachable address from the packet's source tuple.
// New, built on net.ListenUDP/WriteTo plus golang.org/x/sys/unix for the
// SO_BROADCAST socket option the stdlib net package has no portable way
// to set — nothing in the example pack implements UDP broadcast
// discovery, so the socket-option handling is grounded on the x/sys
// dependency the rest of the module already carries transitively.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Sentinel is the fixed payload clients recognize; any other UDP traffic
// on the discovery port is ignored by convention (the beacon never reads,
// only writes).
const Sentinel = "PYTHON_CHAT_SERVER_DISCOVERY_V1"

// Beacon periodically broadcasts Sentinel to the LAN broadcast address on
// a fixed port.
type Beacon struct {
	port     int
	interval time.Duration
	log      *logrus.Logger
}

// New creates a Beacon that broadcasts to 255.255.255.255:port every
// interval.
func New(port int, interval time.Duration, log *logrus.Logger) *Beacon {
	return &Beacon{port: port, interval: interval, log: log}
}

// Run broadcasts Sentinel every interval until ctx is canceled. A failure
// to open the UDP socket is returned immediately; failures to write a
// single datagram are logged and do not stop the beacon.
func (b *Beacon) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		return fmt.Errorf("discovery: set SO_BROADCAST: %w", err)
	}

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: b.port}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.broadcastOnce(conn, dst)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.broadcastOnce(conn, dst)
		}
	}
}

// setBroadcast enables SO_BROADCAST on conn's underlying socket; without
// it, sendto(2) to the limited broadcast address (255.255.255.255) fails
// with EACCES on most kernels.
func setBroadcast(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	if err := rawConn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

func (b *Beacon) broadcastOnce(conn *net.UDPConn, dst *net.UDPAddr) {
	if _, err := conn.WriteTo([]byte(Sentinel), dst); err != nil {
		b.log.WithError(err).Debug("discovery beacon write failed")
	}
}
