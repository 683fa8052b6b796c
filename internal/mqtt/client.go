// Package mqtt is the device ingestion adapter. Sensors publish readings to
// respira/<user>/reading; each reading is analyzed by the worker pool and the
// report is published back to respira/<user>/assessment.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// qos is used for both the subscription and the assessment publish.
const qos byte = 1

// ErrNotConnected is returned by PublishAssessment before Connect succeeds or
// while the connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Config holds broker settings and topic layout.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Username string
	Password string

	// ReadingTopic is the subscription filter. The first "+" segment is the
	// user id, e.g. "respira/+/reading".
	ReadingTopic string

	// AssessmentTopic is the publish template; "{user_id}" is substituted,
	// e.g. "respira/{user_id}/assessment".
	AssessmentTopic string

	// ConnectTimeout bounds the initial connection. Default: 10s.
	ConnectTimeout time.Duration
}

// MessageHandler processes one inbound message. Returned errors are logged;
// they never reach the broker.
type MessageHandler func(topic string, payload []byte) error

// Client manages the broker connection. It subscribes on every (re)connect so
// the subscription survives broker restarts.
type Client struct {
	cfg    Config
	logger *slog.Logger

	// client is set before dialing: paho can deliver messages, and workers
	// publish, before Connect returns.
	mu     sync.RWMutex
	client paho.Client
}

// NewClient prepares a Client. Nothing is dialed until Connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg, logger: logger.With("component", "mqtt")}
}

// Connect dials the broker and subscribes handler to ReadingTopic.
func (c *Client) Connect(handler MessageHandler) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(false)

	onMessage := func(_ paho.Client, msg paho.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt: message dropped", "topic", msg.Topic(), "error", err)
		}
	}

	opts.SetOnConnectHandler(func(pc paho.Client) {
		token := pc.Subscribe(c.cfg.ReadingTopic, qos, onMessage)
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			c.logger.Error("mqtt: subscribe timed out", "topic", c.cfg.ReadingTopic)
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Error("mqtt: subscribe failed", "topic", c.cfg.ReadingTopic, "error", err)
			return
		}
		c.logger.Info("mqtt: connected", "broker", c.cfg.Broker, "topic", c.cfg.ReadingTopic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("mqtt: connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.logger.Info("mqtt: reconnecting", "broker", c.cfg.Broker)
	})

	client := paho.NewClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt: connect to %s: timed out after %s", c.cfg.Broker, c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", c.cfg.Broker, err)
	}
	return nil
}

func (c *Client) conn() paho.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// PublishAssessment publishes payload to the user's assessment topic. It
// satisfies worker.Publisher.
func (c *Client) PublishAssessment(ctx context.Context, userID string, payload []byte) error {
	client := c.conn()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	topic := AssessmentTopic(c.cfg.AssessmentTopic, userID)
	token := client.Publish(topic, qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the client currently holds a broker connection.
func (c *Client) IsConnected() bool {
	client := c.conn()
	return client != nil && client.IsConnected()
}

// Close disconnects, giving in-flight messages 250ms to complete.
func (c *Client) Close() {
	client := c.conn()
	if client == nil {
		return
	}
	client.Disconnect(250)
	c.logger.Info("mqtt: disconnected")
}

// ─── TOPICS ───────────────────────────────────────────────────────────────────

// UserFromTopic returns the topic segment matching the first "+" wildcard of
// filter, or "" when filter has no wildcard or topic is too short.
func UserFromTopic(filter, topic string) string {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, seg := range fs {
		if seg == "+" {
			if i < len(ts) {
				return ts[i]
			}
			return ""
		}
	}
	return ""
}

// AssessmentTopic fills "{user_id}" in template. Characters that would change
// the topic structure (level separator and wildcards) are replaced with "-".
func AssessmentTopic(template, userID string) string {
	if userID == "" {
		userID = "unknown"
	}
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '-'
		}
		return r
	}, userID)
	return strings.ReplaceAll(template, "{user_id}", safe)
}
