package network

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
	"github.com/banshee-data/myo.mouse/internal/timeutil"
)

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string
	QoS      byte
	Clock    timeutil.Clock
}

// MQTTSource subscribes to a topic on which an armband bridge publishes
// sample rows, one or more per message.
type MQTTSource struct {
	cfg   MQTTConfig
	Stats PacketStats
}

// NewMQTTSource creates a source. It does not connect until Run.
func NewMQTTSource(cfg MQTTConfig) *MQTTSource {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("myo-mouse-%d", time.Now().Unix())
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &MQTTSource{cfg: cfg}
}

// Handler returns the message callback that appends rows to buf.
func (s *MQTTSource) Handler(buf *l1samples.Buffer) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		AppendPayload(buf, msg.Payload(), s.cfg.Clock.Now(), &s.Stats)
	}
}

// Run implements l1samples.Source. The subscription is renewed on every
// reconnect; Run returns when ctx is cancelled.
func (s *MQTTSource) Run(ctx context.Context, buf *l1samples.Buffer) error {
	handler := s.Handler(buf)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.Logf("[mqtt] subscribe %s: %v", s.cfg.Topic, err)
			return
		}
		monitoring.Logf("[mqtt] subscribed to %s on %s", s.cfg.Topic, s.cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("[mqtt] connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to MQTT broker %s: %w", s.cfg.Broker, token.Error())
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	s.Stats.LogStats("mqtt")
	return ctx.Err()
}
