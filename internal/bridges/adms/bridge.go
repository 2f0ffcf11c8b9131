package adms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/mqtt"
)

// defaultHealthInterval is used when BridgeOptions.HealthInterval is zero.
const defaultHealthInterval = 30 * time.Second

// commandSourceMQTT is the source of commands received without one.
const commandSourceMQTT = "mqtt"

// MQTTClient is the broker connection the bridge needs.
// The infrastructure mqtt client satisfies it through a small adapter in
// cmd/admsd that drops the handler error return.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Executor runs an operator command against a device. *Manager satisfies it.
type Executor interface {
	Execute(ctx context.Context, serial string, cmd CommandMessage) (any, error)
	Count() int
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// Manager executes commands and reports the connected device count.
	Manager Executor

	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// TopicPrefix is the root of every topic. Defaults to "adms".
	TopicPrefix string

	// QoS for every publish and subscription.
	QoS byte

	// ServerID and Version appear in health messages.
	ServerID string
	Version  string

	// HealthInterval is how often health is published. Default 30s.
	HealthInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Bridge connects the device manager to MQTT.
//
// Device events received through HandleEvent are published on
// {prefix}/event/{sn}/{type}. Operator commands arriving on
// {prefix}/command/{sn} are acknowledged on {prefix}/ack/{sn}, executed
// in their own goroutine and answered on {prefix}/response/{sn}.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	exec    Executor
	mqtt    MQTTClient
	topics  mqtt.Topics
	qos     byte
	logger  Logger
	health  *HealthReporter
	started atomic.Bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	eventsPublished  atomic.Uint64
	publishErrors    atomic.Uint64
}

// NewBridge creates a bridge. Call Start to subscribe and begin reporting.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Manager == nil {
		return nil, errors.New("adms bridge: manager is required")
	}
	if opts.MQTT == nil {
		return nil, errors.New("adms bridge: mqtt client is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("adms bridge: invalid qos %d", opts.QoS)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		exec:      opts.Manager,
		mqtt:      opts.MQTT,
		topics:    mqtt.NewTopics(opts.TopicPrefix),
		qos:       opts.QoS,
		logger:    logger,
		ctx:       ctx,
		ctxCancel: cancel,
	}

	interval := opts.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		ServerID:  opts.ServerID,
		Version:   opts.Version,
		Interval:  interval,
		Topic:     b.topics.Health(),
		QoS:       opts.QoS,
		Publisher: opts.MQTT,
		Devices:   opts.Manager.Count,
		Stats:     b.Statistics,
	})
	b.health.SetLogger(logger)

	return b, nil
}

// Start subscribes to the command topics and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logger.Warn("failed to publish health", "error", err)
	}

	b.started.Store(true)
	b.logger.Info("mqtt bridge started", "prefix", b.topics.Prefix)
	return nil
}

// Stop cancels in-flight commands, waits for them and publishes a final
// "stopping" health status. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.started.Store(false)
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("mqtt bridge stopped")
	})
}

// HandleEvent implements EventSink by publishing e on its event topic.
// device_message events are not published; they are request traces.
func (b *Bridge) HandleEvent(e Event) {
	if e.Type == EventDeviceMessage || !b.started.Load() || !b.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("failed to marshal event", "type", e.Type, "error", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Event(e.SerialNumber, string(e.Type)), payload, b.qos, false); err != nil {
		b.publishErrors.Add(1)
		b.logger.Warn("failed to publish event", "type", e.Type, "serial_number", e.SerialNumber, "error", err)
		return
	}
	b.eventsPublished.Add(1)
}

// Statistics returns the bridge counters.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		EventsPublished:  b.eventsPublished.Load(),
		PublishErrors:    b.publishErrors.Load(),
	}
}

// handleMessage receives a payload from {prefix}/command/{sn}.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	serial, ok := b.topics.CommandSerial(topic)
	if !ok {
		b.logger.Debug("ignoring message on unexpected topic", "topic", topic)
		return
	}
	b.commandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(serial, CommandMessage{}, AckFailed, &AckError{
			Code:    ErrCodeInvalidCommand,
			Message: "malformed command payload: " + err.Error(),
		})
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Source == "" {
		cmd.Source = commandSourceMQTT
	}
	if !cmd.Command.Valid() {
		b.commandsFailed.Add(1)
		b.publishAck(serial, cmd, AckFailed, &AckError{
			Code:    ErrCodeInvalidCommand,
			Message: fmt.Sprintf("unknown command %q", cmd.Command),
		})
		return
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"serial_number", serial,
		"command", cmd.Command,
		"source", cmd.Source)

	b.publishAck(serial, cmd, AckAccepted, nil)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(serial, cmd)
	}()
}

// run executes cmd and publishes its response.
func (b *Bridge) run(serial string, cmd CommandMessage) {
	start := time.Now()
	result, err := b.exec.Execute(b.ctx, serial, cmd)

	resp := ResponseMessage{
		CommandID:    cmd.ID,
		Timestamp:    time.Now().UTC(),
		SerialNumber: serial,
		Command:      cmd.Command,
		Status:       ResponseCompleted,
		DurationMS:   time.Since(start).Milliseconds(),
		Result:       result,
	}
	if err != nil {
		b.commandsFailed.Add(1)
		code, status := errorCode(err)
		resp.Status = status
		resp.Error = &AckError{Code: code, Message: err.Error()}
		if cmd.Command != CommandPushUsers {
			resp.Result = nil
		}
		b.logger.Warn("command failed",
			"command_id", cmd.ID,
			"serial_number", serial,
			"error", err)
	}

	b.publish(b.topics.Response(serial), resp)
}

func (b *Bridge) publishAck(serial string, cmd CommandMessage, status AckStatus, ackErr *AckError) {
	b.publish(b.topics.Ack(serial), AckMessage{
		CommandID:    cmd.ID,
		Timestamp:    time.Now().UTC(),
		SerialNumber: serial,
		Command:      cmd.Command,
		Status:       status,
		Error:        ackErr,
	})
}

func (b *Bridge) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.publishErrors.Add(1)
		b.logger.Warn("failed to publish", "topic", topic, "error", err)
	}
}
