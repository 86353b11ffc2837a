package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/teleinfo/internal/protocol/frame"
	MQTT "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrBrokerRequired = errors.New("sink: mqtt broker required")
	ErrTopicRequired  = errors.New("sink: mqtt topic required")
	ErrPublishTimeout = errors.New("sink: mqtt publish timeout")
	ErrConnectTimeout = errors.New("sink: mqtt connect timeout")
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// MQTTPublisher mirrors emitted frames to an MQTT topic as JSON.
type MQTTPublisher struct {
	client  MQTT.Client
	topic   string
	qos     byte
	timeout time.Duration
}

type mirrorMessage struct {
	Time   string         `json:"time"`
	Values map[string]any `json:"values"`
}

func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, ErrBrokerRequired
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, ErrTopicRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	options := MQTT.NewClientOptions().AddBroker(cfg.Broker)
	options.SetClientID(cfg.ClientID)
	options.SetAutoReconnect(true)
	client := MQTT.NewClient(options)

	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink: mqtt connect %s: %w", cfg.Broker, err)
	}
	return &MQTTPublisher{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
	}, nil
}

func (p *MQTTPublisher) Publish(_ context.Context, f *frame.Frame, at time.Time) error {
	payload, err := encodeMirrorMessage(f, at)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func encodeMirrorMessage(f *frame.Frame, at time.Time) ([]byte, error) {
	return json.Marshal(mirrorMessage{
		Time:   at.UTC().Format(time.RFC3339),
		Values: f.Map(),
	})
}
