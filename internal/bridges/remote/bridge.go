package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tagbox-core/internal/jukebox"
	"github.com/nerrad567/tagbox-core/internal/notify"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one remote command.
	commandTimeout = 5 * time.Second

	// defaultQueueSize is the number of outbound messages buffered while
	// the broker is slow.
	defaultQueueSize = 64

	// source tags audit entries for commands received over MQTT.
	source = "mqtt"
)

// Bridge mirrors notifications onto MQTT and feeds MQTT commands into the
// control plane.
//
// Outbound, every notification is published on event/{channel}; track and
// volume changes are also published retained on state/track and
// state/volume. Publishing happens on the bridge's own goroutine so that a
// slow broker never stalls playback; when the queue is full messages are
// dropped and counted.
//
// Inbound, command/stop and command/volume ({"level": N}) are routed to
// the Controller.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client MQTTClient
	topics mqtt.Topics
	qos    byte
	ctrl   Controller
	logger Logger

	queue chan message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	commands  atomic.Uint64
	failed    atomic.Uint64
}

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

var _ MQTTClient = (*mqtt.Client)(nil)

// Controller is the part of the control plane reachable over MQTT.
type Controller interface {
	StopPlayback(ctx context.Context) jukebox.Result
	SetVolume(ctx context.Context, level int) (int, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	// Client is the connected MQTT client.
	Client MQTTClient

	// Topics names this box's topic tree.
	Topics mqtt.Topics

	// QoS for outbound messages and the command subscription.
	QoS byte

	// Controller receives remote commands.
	Controller Controller

	// Logger is optional.
	Logger Logger

	// QueueSize overrides defaultQueueSize.
	QueueSize int
}

// Stats are the bridge counters.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Commands  uint64 `json:"commands"`
	Failed    uint64 `json:"failed"`
}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// volumeCommand is the payload of command/volume.
type volumeCommand struct {
	Level *int `json:"level"`
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client: opts.Client,
		topics: opts.Topics,
		qos:    opts.QoS,
		ctrl:   opts.Controller,
		logger: opts.Logger,
		queue:  make(chan message, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes to command topics and starts the publisher.
func (b *Bridge) Start() error {
	topic := b.topics.AllCommands()
	if err := b.client.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.wg.Add(1)
	go b.publishLoop()
	return nil
}

// Stop flushes queued messages and stops the publisher. Safe to call more
// than once.
func (b *Bridge) Stop() {
	b.stop.Do(func() {
		b.cancel()
		b.wg.Wait()
	})
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Commands:  b.commands.Load(),
		Failed:    b.failed.Load(),
	}
}

// Broadcast implements notify.Sink.
func (b *Bridge) Broadcast(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("encoding notification", "channel", channel, "error", err)
		return
	}

	b.enqueue(message{topic: b.topics.Event(channel), payload: data})

	switch channel {
	case notify.TrackUpdate:
		b.enqueue(message{topic: b.topics.TrackState(), payload: data, retained: true})
	case notify.VolumeUpdate:
		b.enqueue(message{topic: b.topics.VolumeState(), payload: data, retained: true})
	}
}

func (b *Bridge) enqueue(m message) {
	select {
	case b.queue <- m:
	default:
		b.dropped.Add(1)
		b.logger.Warn("MQTT queue full, dropping message", "topic", m.topic)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case m := <-b.queue:
			b.publish(m)
		case <-b.ctx.Done():
			for {
				select {
				case m := <-b.queue:
					b.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(m message) {
	if err := b.client.Publish(m.topic, m.payload, b.qos, m.retained); err != nil {
		b.failed.Add(1)
		if errors.Is(err, mqtt.ErrNotConnected) {
			b.logger.Debug("MQTT offline, message not published", "topic", m.topic)
			return
		}
		b.logger.Warn("MQTT publish failed", "topic", m.topic, "error", err)
		return
	}
	b.published.Add(1)
}

// handleCommand routes one inbound command.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	name, ok := b.topics.CommandName(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrUnknownCommand, topic)
	}
	b.commands.Add(1)

	ctx, cancel := context.WithTimeout(jukebox.WithSource(b.ctx, source), commandTimeout)
	defer cancel()

	b.logger.Info("received command", "command", name)

	switch name {
	case mqtt.CommandStop:
		if res := b.ctrl.StopPlayback(ctx); !res.OK() {
			return fmt.Errorf("stop: %s", res.Message)
		}
		return nil

	case mqtt.CommandVolume:
		var cmd volumeCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		if cmd.Level == nil {
			return fmt.Errorf("%w: level is required", ErrInvalidCommand)
		}
		if _, err := b.ctrl.SetVolume(ctx, *cmd.Level); err != nil {
			return fmt.Errorf("set volume: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}
