package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
)

// FormatDecision renders the datagram for an accepted decision:
// "<class> <speed>", speed in pixels per second.
func FormatDecision(d emg.Decision) string {
	return d.Prediction.Class + " " + strconv.FormatFloat(d.Command.Speed(), 'f', 3, 64)
}

// DecisionForwarder sends accepted decisions as UDP datagrams to an external
// consumer (a game, a plotting tool). It implements emg.DecisionSink and
// never blocks the control loop: when its queue is full the decision is
// dropped and counted.
type DecisionForwarder struct {
	conn        *net.UDPConn
	queue       chan []byte
	address     string
	logInterval time.Duration
	Dropped     atomic.Int64
	Sent        atomic.Int64
	started     atomic.Bool
	done        chan struct{}
}

// NewDecisionForwarder dials address ("host:port").
func NewDecisionForwarder(address string, logInterval time.Duration) (*DecisionForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %v", err)
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &DecisionForwarder{
		conn:        conn,
		queue:       make(chan []byte, 256),
		address:     address,
		logInterval: logInterval,
		done:        make(chan struct{}),
	}, nil
}

// Start runs the send loop until ctx is cancelled.
func (f *DecisionForwarder) Start(ctx context.Context) {
	f.started.Store(true)
	go func() {
		defer close(f.done)
		var failed int
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-f.queue:
				if _, err := f.conn.Write(msg); err != nil {
					failed++
					lastErr = err
					continue
				}
				f.Sent.Add(1)
			case <-ticker.C:
				if failed > 0 {
					monitoring.Logf("Dropped %d forwarded decisions due to errors (latest: %v)", failed, lastErr)
					failed, lastErr = 0, nil
				}
			}
		}
	}()
	monitoring.Logf("Forwarding decisions to %s", f.address)
}

// RecordDecision implements emg.DecisionSink.
func (f *DecisionForwarder) RecordDecision(d emg.Decision) error {
	if !d.Accepted {
		return nil
	}
	select {
	case f.queue <- []byte(FormatDecision(d)):
	default:
		f.Dropped.Add(1)
	}
	return nil
}

// Close waits for the send loop started by Start to exit, then closes the
// socket. Cancel the Start context first.
func (f *DecisionForwarder) Close() error {
	if f.started.Load() {
		<-f.done
	}
	return f.conn.Close()
}
