// Package satellite bridges remote microphone satellites over MQTT. Each
// satellite streams raw PCM16 little-endian audio on jarvis/<id>/audio and
// receives spoken replies on jarvis/<id>/say.
package satellite

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ogb4n/Jarvis/internal/audio"
	"github.com/ogb4n/Jarvis/internal/logging"
)

const (
	audioTopic = "jarvis/+/audio"
	qosAtMost  = 0
	qosAtLeast = 1
)

// Options configures the MQTT satellite source.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	SampleRate int // PCM sample rate the satellites stream at, default 16000
}

// Source subscribes to satellite audio topics and delivers decoded frames.
// It implements audio.Source.
type Source struct {
	opts   Options
	client mqtt.Client

	mu      sync.Mutex
	deliver func(audio.Frame)
	running bool
}

func NewSource(opts Options) *Source {
	if opts.ClientID == "" {
		opts.ClientID = "jarvis-engine"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return &Source{opts: opts}
}

// Start connects to the broker and subscribes to the audio topic. deliver is
// invoked from the paho callback goroutine for every decoded frame.
func (s *Source) Start(deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.opts.Broker)
	opts.SetClientID(s.opts.ClientID)
	opts.SetUsername(s.opts.Username)
	opts.SetPassword(s.opts.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logging.Infow("satellite: connected to MQTT broker", "broker", s.opts.Broker)
		if token := c.Subscribe(audioTopic, qosAtMost, s.onAudio); token.Wait() && token.Error() != nil {
			logging.Errorw("satellite: audio subscribe failed", "err", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warnw("satellite: MQTT connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	s.client = client
	s.deliver = deliver
	s.running = true
	return nil
}

// Stop unsubscribes and disconnects.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.client.Unsubscribe(audioTopic)
	s.client.Disconnect(250)
	s.running = false
	s.deliver = nil
	return nil
}

// Say publishes a spoken reply for one satellite.
func (s *Source) Say(satelliteID, text string) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	payload, _ := json.Marshal(map[string]string{"text": text})
	topic := fmt.Sprintf("jarvis/%s/say", satelliteID)
	if token := client.Publish(topic, qosAtLeast, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish say message: %w", token.Error())
	}
	return nil
}

// PublishEvent broadcasts a state event for one satellite.
func (s *Source) PublishEvent(satelliteID, event string, data map[string]interface{}) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	body := map[string]interface{}{"event": event, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range data {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	topic := fmt.Sprintf("jarvis/%s/event", satelliteID)
	if token := client.Publish(topic, qosAtMost, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish event: %w", token.Error())
	}
	return nil
}

func (s *Source) onAudio(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver == nil {
		return
	}

	payload := msg.Payload()
	if len(payload) < 2 {
		return
	}
	frame := audio.Frame{
		Samples:    audio.PCM16ToFloat32(payload),
		SampleRate: s.opts.SampleRate,
		Channels:   1,
	}
	logging.Debugw("satellite: audio frame received",
		"topic", msg.Topic(), "satellite_id", satelliteIDFromTopic(msg.Topic()), "samples", len(frame.Samples))
	deliver(frame)
}

// satelliteIDFromTopic extracts the id from jarvis/<id>/audio.
func satelliteIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
