package adms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a device notification.
type EventType string

const (
	// EventDeviceConnected fires once per serial number, on first contact.
	EventDeviceConnected EventType = "device_connected"

	// EventDeviceMessage fires for every inbound device request.
	EventDeviceMessage EventType = "device_message"

	// EventCommandIssued fires when a command is installed on a session.
	EventCommandIssued EventType = "command_issued"

	// EventCommandCompleted fires when the device replies on devicecmd.
	EventCommandCompleted EventType = "command_completed"

	// EventCommandCancelled fires when an operator aborts a command.
	EventCommandCancelled EventType = "command_cancelled"

	// EventRequestTimeout fires when a command's wait window elapses.
	EventRequestTimeout EventType = "request_timeout"

	// EventReturnCode fires once per line of a devicecmd reply.
	EventReturnCode EventType = "return_code"

	// EventRecord fires for every row decoded by a table pull.
	EventRecord EventType = "record"

	// EventDecodeError fires for every row a table pull could not decode.
	EventDecodeError EventType = "decode_error"

	// EventDataPushed fires when a device posts data to cdata.
	EventDataPushed EventType = "data_pushed"

	// EventHandlerFault fires when a route handler panics.
	EventHandlerFault EventType = "handler_fault"
)

// Event is a notification about one device.
type Event struct {
	Type         EventType      `json:"type"`
	SerialNumber string         `json:"serial_number"`
	Timestamp    time.Time      `json:"timestamp"`
	Message      string         `json:"message,omitempty"`
	CommandID    string         `json:"command_id,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// NewEvent creates an event stamped with the current UTC time.
func NewEvent(t EventType, serial, message string) Event {
	return Event{
		Type:         t,
		SerialNumber: serial,
		Timestamp:    time.Now().UTC(),
		Message:      message,
	}
}

// EventSink receives device notifications.
//
// HandleEvent is called from a single dispatch goroutine when the sink is
// subscribed to a Notifier, or inline by a Session otherwise. It must not
// call back into the session that emitted the event synchronously.
type EventSink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// HandleEvent implements EventSink.
func (f SinkFunc) HandleEvent(e Event) { f(e) }

// noopSink drops every event.
type noopSink struct{}

func (noopSink) HandleEvent(Event) {}

// defaultNotifierBuffer is the queue length of a Notifier.
const defaultNotifierBuffer = 1024

// sheddable reports whether events of type t may be discarded under load.
// They are per-request or per-row traces; every other type is a lifecycle
// event that sinks such as the monitor depend on.
func sheddable(t EventType) bool {
	switch t {
	case EventDeviceMessage, EventRecord, EventDataPushed:
		return true
	default:
		return false
	}
}

// Notifier fans events out to subscribed sinks on its own goroutine, so
// slow sinks (MQTT publish, database writes) never run while a session
// lock is held.
//
// Events emitted before Start are queued. Once the queue holds its
// configured length, trace events (device_message, record, data_pushed)
// are dropped and counted; lifecycle events are always queued. Delivery
// order matches emission order.
//
// Thread Safety: all methods are safe for concurrent use.
type Notifier struct {
	size    int
	queueMu sync.Mutex
	queue   []Event
	wake    chan struct{}
	dropped atomic.Uint64

	sinks   []EventSink
	sinksMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewNotifier creates a Notifier with the given queue length
// (defaultNotifierBuffer when size <= 0).
func NewNotifier(size int) *Notifier {
	if size <= 0 {
		size = defaultNotifierBuffer
	}
	return &Notifier{
		size: size,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Subscribe adds a sink. Sinks receive events in emission order.
func (n *Notifier) Subscribe(sink EventSink) {
	n.sinksMu.Lock()
	n.sinks = append(n.sinks, sink)
	n.sinksMu.Unlock()
}

// SetLogger sets the logger used to report sink panics.
func (n *Notifier) SetLogger(logger Logger) {
	n.loggerMu.Lock()
	n.logger = logger
	n.loggerMu.Unlock()
}

// HandleEvent implements EventSink by queueing e for dispatch. It never
// blocks.
func (n *Notifier) HandleEvent(e Event) {
	n.queueMu.Lock()
	if len(n.queue) >= n.size && sheddable(e.Type) {
		n.queueMu.Unlock()
		n.dropped.Add(1)
		return
	}
	n.queue = append(n.queue, e)
	n.queueMu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Dropped returns how many trace events were discarded because the queue
// was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Pending returns the number of queued, undelivered events.
func (n *Notifier) Pending() int {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return len(n.queue)
}

// Start begins dispatching. Calling Start more than once has no effect.
func (n *Notifier) Start(ctx context.Context) {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	n.wg.Add(1)
	go n.run(ctx)
}

// Stop drains queued events and stops dispatching. Safe to call multiple
// times.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-n.wake:
			n.drain()
		case <-ctx.Done():
			n.drain()
			return
		case <-n.done:
			n.drain()
			return
		}
	}
}

// drain dispatches everything queued so far, batch by batch.
func (n *Notifier) drain() {
	for {
		n.queueMu.Lock()
		batch := n.queue
		n.queue = nil
		n.queueMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			n.dispatch(e)
		}
	}
}

func (n *Notifier) dispatch(e Event) {
	n.sinksMu.RLock()
	sinks := make([]EventSink, len(n.sinks))
	copy(sinks, n.sinks)
	n.sinksMu.RUnlock()

	for _, sink := range sinks {
		n.deliver(sink, e)
	}
}

// deliver isolates one sink so a panic cannot stop the dispatch loop.
func (n *Notifier) deliver(sink EventSink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			n.loggerMu.RLock()
			logger := n.logger
			n.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("event sink panicked", "event", string(e.Type), "panic", r)
			}
		}
	}()
	sink.HandleEvent(e)
}

// LogSink writes every event to a Logger. device_message events are
// logged at debug level, faults and timeouts at warn.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

// HandleEvent implements EventSink.
func (s *LogSink) HandleEvent(e Event) {
	args := []any{"serial_number", e.SerialNumber, "event", string(e.Type)}
	if e.CommandID != "" {
		args = append(args, "command_id", e.CommandID)
	}
	for k, v := range e.Fields {
		args = append(args, k, v)
	}

	switch e.Type {
	case EventDeviceMessage, EventRecord, EventReturnCode:
		s.logger.Debug(e.Message, args...)
	case EventRequestTimeout, EventHandlerFault, EventDecodeError:
		s.logger.Warn(e.Message, args...)
	default:
		s.logger.Info(e.Message, args...)
	}
}
