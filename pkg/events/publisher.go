// Package events publishes check-in and enrollment events over MQTT.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/config"
	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic suffixes below the configured prefix.
const (
	TopicVerification = "verification"
	TopicEnrollment   = "enrollment"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt client not connected")

// publisher is the part of mqtt.Client used for publishing.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// VerificationEvent is the payload published for every verification result.
type VerificationEvent struct {
	SessionID string          `json:"session_id,omitempty"`
	Scope     string          `json:"scope,omitempty"`
	Result    matching.Result `json:"result"`
	Time      time.Time       `json:"time"`
}

// EnrollmentEvent is the payload published when a member enrolled. It never
// carries the descriptor or the face image.
type EnrollmentEvent struct {
	SessionID   string    `json:"session_id,omitempty"`
	MemberID    string    `json:"member_id"`
	SampleCount int       `json:"sample_count"`
	Time        time.Time `json:"time"`
}

// Publisher implements capture.ResultSink and capture.EnrollmentSink.
type Publisher struct {
	client  mqtt.Client
	pub     publisher
	prefix  string
	qos     byte
	timeout time.Duration
	broker  string
}

// NewPublisher creates a publisher for the configured broker. Call Connect
// before use.
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Component("events").WithError(err).Warn("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logging.Component("events").Infof("Connected to MQTT broker: %s", broker)
	})

	client := mqtt.NewClient(opts)
	return &Publisher{
		client:  client,
		pub:     client,
		prefix:  cfg.TopicPrefix,
		qos:     byte(cfg.QoS),
		timeout: 5 * time.Second,
		broker:  broker,
	}
}

// Connect connects to the broker.
func (p *Publisher) Connect() error {
	logging.Component("events").Infof("Connecting to MQTT broker: %s", p.broker)
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("timed out connecting to %s", p.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.broker, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Topic returns the full topic for suffix.
func (p *Publisher) Topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "/" + suffix
}

// RecordResult publishes a verification result.
func (p *Publisher) RecordResult(ctx context.Context, res matching.Result) error {
	return p.publish(ctx, TopicVerification, VerificationEvent{
		SessionID: capture.SessionIDFromContext(ctx),
		Scope:     capture.ScopeFromContext(ctx),
		Result:    res,
		Time:      time.Now(),
	})
}

// StoreTemplate publishes that memberID enrolled.
func (p *Publisher) StoreTemplate(ctx context.Context, memberID string, tmpl enrollment.Template) error {
	return p.publish(ctx, TopicEnrollment, EnrollmentEvent{
		SessionID:   capture.SessionIDFromContext(ctx),
		MemberID:    memberID,
		SampleCount: tmpl.SampleCount,
		Time:        time.Now(),
	})
}

func (p *Publisher) publish(ctx context.Context, suffix string, v any) error {
	if p.client != nil && !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := p.Topic(suffix)
	token := p.pub.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	logging.Debugf("Published event to %s", topic)
	return nil
}
