package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
	"github.com/banshee-data/myo.mouse/internal/timeutil"
)

func TestAppendPayload(t *testing.T) {
	t.Parallel()

	buf := l1samples.NewBuffer(16, 2)
	var stats PacketStats
	n := AppendPayload(buf, []byte("1,2\n3,4\r\n\n# comment\nbad\n5,6"), time.Unix(0, 0), &stats)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), buf.Total())
	assert.Equal(t, int64(1), stats.Packets.Load())
	assert.Equal(t, int64(3), stats.Samples.Load())
	assert.Equal(t, int64(2), stats.Rejected.Load())

	samples, _, _ := buf.ReadFrom(0)
	assert.Equal(t, []float64{3, 4}, samples[1].Values)
}

func TestUDPListener(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", Clock: clock})
	buf := l1samples.NewBuffer(64, 3)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx, buf) }()

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not bind")
	}

	conn, err := net.DialUDP("udp", nil, l.LocalAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("0.1 0.2 0.3\n0.4 0.5 0.6\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return buf.Total() == 2 }, 2*time.Second, 5*time.Millisecond)
	samples, _, _ := buf.ReadFrom(0)
	assert.Equal(t, clock.Now(), samples[0].Timestamp)
	assert.Equal(t, []float64{0.4, 0.5, 0.6}, samples[1].Values)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestUDPListenerBadAddress(t *testing.T) {
	t.Parallel()
	l := NewUDPListener(UDPListenerConfig{Address: "not-an-address"})
	err := l.Run(context.Background(), l1samples.NewBuffer(4, 1))
	assert.Error(t, err)
}

func TestFormatDecision(t *testing.T) {
	t.Parallel()
	d := emg.Decision{
		Prediction: emg.Prediction{Class: "3"},
		Command:    emg.ControlCommand{VX: 30, VY: 40},
	}
	assert.Equal(t, "3 50.000", FormatDecision(d))
}

func TestDecisionForwarder(t *testing.T) {
	t.Parallel()

	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer recv.Close()

	f, err := NewDecisionForwarder(recv.LocalAddr().String(), time.Minute)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)

	require.NoError(t, f.RecordDecision(emg.Decision{
		Prediction: emg.Prediction{Class: "1"},
		Command:    emg.ControlCommand{VY: -50},
	}))
	require.NoError(t, f.RecordDecision(emg.Decision{
		Accepted:   true,
		Prediction: emg.Prediction{Class: "4"},
		Command:    emg.ControlCommand{VX: -50},
	}))

	require.NoError(t, recv.SetReadDeadline(time.Now().Add(2*time.Second)))
	packet := make([]byte, 256)
	n, _, err := recv.ReadFromUDP(packet)
	require.NoError(t, err)
	// The rejected decision is not forwarded.
	assert.Equal(t, "4 50.000", string(packet[:n]))

	cancel()
	require.NoError(t, f.Close())
	assert.Equal(t, int64(1), f.Sent.Load())
}

func TestDecisionForwarderDropsWhenFull(t *testing.T) {
	t.Parallel()

	f, err := NewDecisionForwarder("127.0.0.1:9", time.Minute)
	require.NoError(t, err)
	// Not started: nothing drains the queue.
	d := emg.Decision{Accepted: true, Prediction: emg.Prediction{Class: "0"}}
	for i := 0; i < cap(f.queue)+5; i++ {
		require.NoError(t, f.RecordDecision(d))
	}
	assert.Equal(t, int64(5), f.Dropped.Load())
	require.NoError(t, f.Close())
}

type fakeMessage struct{ payload []byte }

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "emg/samples" }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTHandler(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(100, 0))
	src := NewMQTTSource(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "emg/samples", Clock: clock})
	buf := l1samples.NewBuffer(8, 2)

	h := src.Handler(buf)
	h(nil, fakeMessage{payload: []byte("1,2\n3,4\n")})
	h(nil, fakeMessage{payload: []byte("5,6,7,8")})

	assert.Equal(t, int64(2), buf.Total())
	assert.Equal(t, int64(2), src.Stats.Packets.Load())
	assert.Equal(t, int64(1), src.Stats.Rejected.Load())
	assert.NotEmpty(t, src.cfg.ClientID)
}
