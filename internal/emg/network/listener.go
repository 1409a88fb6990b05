// Package network carries samples in and decisions out over the network:
// a UDP sample listener, an MQTT sample subscriber, PCAP replay of captured
// sample traffic, and a UDP forwarder for classifier decisions.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
	"github.com/banshee-data/myo.mouse/internal/timeutil"
)

// PacketStats counts datagrams and the samples they carried.
type PacketStats struct {
	Packets  atomic.Int64
	Bytes    atomic.Int64
	Samples  atomic.Int64
	Rejected atomic.Int64
}

// LogStats writes a one-line summary.
func (s *PacketStats) LogStats(source string) {
	monitoring.Logf("[%s] packets=%d bytes=%d samples=%d rejected=%d",
		source, s.Packets.Load(), s.Bytes.Load(), s.Samples.Load(), s.Rejected.Load())
}

// AppendPayload parses a datagram of one or more newline separated sample
// rows into buf and returns how many samples were appended.
func AppendPayload(buf *l1samples.Buffer, payload []byte, now time.Time, stats *PacketStats) int {
	stats.Packets.Add(1)
	stats.Bytes.Add(int64(len(payload)))

	n := 0
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := l1samples.AppendLine(buf, string(line), now); err != nil {
			stats.Rejected.Add(1)
			monitoring.Debugf("[udp] dropped row %q: %v", line, err)
			continue
		}
		n++
	}
	stats.Samples.Add(int64(n))
	return n
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Clock       timeutil.Clock
}

// UDPListener receives sample datagrams, for example from a wireless
// armband bridge, and appends them to the acquisition buffer.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	clock       timeutil.Clock
	Stats       PacketStats

	localAddr atomic.Pointer[net.UDPAddr]
	ready     chan struct{}
}

// NewUDPListener creates a listener. It does not bind until Run.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	logInterval := cfg.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UDPListener{
		address:     cfg.Address,
		rcvBuf:      cfg.RcvBuf,
		logInterval: logInterval,
		clock:       clock,
		ready:       make(chan struct{}),
	}
}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address, or nil before Ready.
func (l *UDPListener) LocalAddr() *net.UDPAddr { return l.localAddr.Load() }

// Run implements l1samples.Source. It blocks until ctx is cancelled.
func (l *UDPListener) Run(ctx context.Context, buf *l1samples.Buffer) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.localAddr.Store(conn.LocalAddr().(*net.UDPAddr))
	close(l.ready)
	monitoring.Logf("UDP sample listener started on %s", conn.LocalAddr())

	go l.logStats(ctx)

	packet := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Short deadline so cancellation is noticed promptly.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(packet)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}
		AppendPayload(buf, packet[:n], l.clock.Now(), &l.Stats)
	}
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Stats.LogStats("udp")
		}
	}
}
