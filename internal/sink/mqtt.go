package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const brokerSink = "broker"

// PublishOptions are the MQTT delivery guarantees of one message.
type PublishOptions struct {
	QoS    byte
	Retain bool
}

// ReadingOptions is how measurements are published: at least once and
// retained as the topic's last known value.
var ReadingOptions = PublishOptions{QoS: 1, Retain: true}

// Publisher sends a payload to a broker topic. Failures are DeliveryErrors.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, opts PublishOptions) error
}

// Bridge status values published on <base>/status
const (
	StatusOnline  = "online"
	StatusSynced  = "synced"
	StatusError   = "error"
	StatusOffline = "offline"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	BaseTopic string
	// ConnectTimeout also bounds each publish acknowledgement
	ConnectTimeout time.Duration
}

// MQTTPublisher publishes readings and bridge status over MQTT.
type MQTTPublisher struct {
	client    mqtt.Client
	baseTopic string
	timeout   time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewMQTTPublisher creates an unconnected publisher. The broker retains an
// "offline" status as the client's will.
func NewMQTTPublisher(cfg MQTTConfig, logger *logrus.Logger) *MQTTPublisher {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("bpbridge-%d", time.Now().Unix())
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetWill(StatusTopic(cfg.BaseTopic), string(statusPayload(StatusOffline, "connection lost", time.Now())), 1, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithField("error", err).Warn("MQTT connection lost")
	})

	return newMQTTPublisher(mqtt.NewClient(opts), cfg.BaseTopic, cfg.ConnectTimeout, logger)
}

func newMQTTPublisher(client mqtt.Client, baseTopic string, timeout time.Duration, logger *logrus.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:    client,
		baseTopic: baseTopic,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Connect dials the broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	if err := p.await(ctx, p.client.Connect()); err != nil {
		return transient(brokerSink, err, "connect")
	}
	p.logger.WithField("topic", p.baseTopic).Info("Connected to MQTT broker")
	return nil
}

// Close publishes the offline status and disconnects.
func (p *MQTTPublisher) Close(ctx context.Context) {
	if !p.client.IsConnected() {
		return
	}
	if err := p.PublishStatus(ctx, StatusOffline, ""); err != nil {
		p.logger.WithField("error", err).Warn("Failed to publish offline status")
	}
	p.Disconnect()
}

// Disconnect leaves the broker without announcing a status.
func (p *MQTTPublisher) Disconnect() {
	if !p.client.IsConnected() {
		return
	}
	p.client.Disconnect(250)
	p.logger.Info("Disconnected from MQTT broker")
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, opts PublishOptions) error {
	if !p.client.IsConnected() {
		if err := p.Connect(ctx); err != nil {
			return err
		}
	}
	if err := p.await(ctx, p.client.Publish(topic, opts.QoS, opts.Retain, payload)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(brokerSink, err, "publish to %s", topic)
	}
	p.logger.WithFields(logrus.Fields{
		"topic": topic,
		"qos":   opts.QoS,
		"bytes": len(payload),
	}).Debug("Published to MQTT")
	return nil
}

// PublishStatus publishes the bridge status, retained.
func (p *MQTTPublisher) PublishStatus(ctx context.Context, status, message string) error {
	return p.Publish(ctx, StatusTopic(p.baseTopic), statusPayload(status, message, p.now()), PublishOptions{QoS: 1, Retain: true})
}

// UserTopic returns the reading topic of a user.
func (p *MQTTPublisher) UserTopic(user string) string {
	return UserTopic(p.baseTopic, user)
}

func (p *MQTTPublisher) await(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("no broker acknowledgement within %s", p.timeout)
	}
}

// UserTopic returns <base>/<user> with the user name made topic-safe.
// An empty user publishes on the base topic.
func UserTopic(base, user string) string {
	if user == "" {
		return base
	}
	safe := strings.NewReplacer("@", "_at_", " ", "_", "/", "_", "+", "_", "#", "_").Replace(user)
	return base + "/" + safe
}

func StatusTopic(base string) string {
	return base + "/status"
}

type statusMessage struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, message string, at time.Time) []byte {
	b, _ := json.Marshal(statusMessage{
		Status:    status,
		Message:   message,
		Timestamp: at.Format(time.RFC3339),
	})
	return b
}
