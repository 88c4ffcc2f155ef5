package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
)

// Logger receives connection and handler problems. *logging.Logger
// satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one inbound message. It runs on a paho goroutine
// and must not block; a returned error is only logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the box's broker connection. It announces itself as online on
// every (re)connect, leaves a retained offline will, and resubscribes after
// the broker drops it.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	up     atomic.Bool

	mu   sync.Mutex
	subs map[string]subscription
	log  Logger
}

func newClient(cfg config.MQTTConfig, deviceID string) *Client {
	return &Client{
		cfg:    cfg,
		topics: Topics{DeviceID: deviceID},
		subs:   make(map[string]subscription),
		log:    noopLogger{},
	}
}

// Connect dials the broker and waits up to connectTimeout for the session.
// A broker that is down fails here with ErrConnectionFailed; later drops
// are retried in the background.
func Connect(cfg config.MQTTConfig, deviceID string) (*Client, error) {
	c := newClient(cfg, deviceID)

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.up.Store(false)
		c.logger().Warn("mqtt connection lost", "error", err)
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// onConnect runs on its own goroutine and may not have fired yet.
	c.up.Store(true)
	return c, nil
}

func (c *Client) onConnect() {
	c.up.Store(true)

	c.mu.Lock()
	for topic, s := range c.subs {
		c.paho.Subscribe(topic, s.qos, c.dispatch(s.handler))
	}
	c.mu.Unlock()

	c.paho.Publish(c.topics.Status(), c.QoS(), true, statusPayload(StatusOnline, c.cfg.Broker.ClientID, ""))
	c.logger().Info("mqtt connected", "client_id", c.cfg.Broker.ClientID)
}

// Topics returns this box's topic builder.
func (c *Client) Topics() Topics { return c.topics }

// QoS returns the configured default QoS.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) }

// IsConnected reports whether the session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger replaces the logger. nil silences it.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.log == nil {
		return noopLogger{}
	}
	return c.log
}

// Close publishes a retained offline status and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.paho.Publish(c.topics.Status(), c.QoS(), true,
			statusPayload(StatusOffline, c.cfg.Broker.ClientID, "graceful_shutdown"))
		tok.WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(disconnectQuiesceMs)
	c.up.Store(false)
	return nil
}

// dispatch adapts a MessageHandler to paho, logging errors and panics.
func (c *Client) dispatch(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if p := recover(); p != nil {
				c.logger().Error("mqtt handler panic", "topic", msg.Topic(), "panic", p)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.logger().Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
