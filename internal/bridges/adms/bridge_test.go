package adms

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type mqttPublish struct {
	topic    string
	payload  []byte
	retained bool
}

// mockMQTT records publishes and lets tests inject command messages.
type mockMQTT struct {
	mu        sync.Mutex
	connected bool
	failWith  error
	published []mqttPublish
	handlers  map[string]func(topic string, payload []byte)
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: make(map[string]func(string, []byte))}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.published = append(m.published, mqttPublish{topic: topic, payload: payload, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// send delivers payload on a concrete topic via the matching wildcard handler.
func (m *mockMQTT) send(filter, topic string, payload []byte) {
	m.mu.Lock()
	h := m.handlers[filter]
	m.mu.Unlock()
	h(topic, payload)
}

func (m *mockMQTT) on(topic string) []mqttPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mqttPublish
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// waitFor polls until at least one message has been published on topic.
func (m *mockMQTT) waitFor(t *testing.T, topic string) mqttPublish {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := m.on(topic); len(got) > 0 {
			return got[len(got)-1]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("nothing published on %s", topic)
	return mqttPublish{}
}

func newTestBridge(t *testing.T, m *Manager) (*Bridge, *mockMQTT) {
	t.Helper()
	client := newMockMQTT()
	b, err := NewBridge(BridgeOptions{
		Manager:     m,
		MQTT:        client,
		TopicPrefix: "adms",
		QoS:         1,
		ServerID:    "adms-test",
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, client
}

func TestNewBridge_Validation(t *testing.T) {
	m, _ := newTestManager(t, time.Second)

	if _, err := NewBridge(BridgeOptions{MQTT: newMockMQTT()}); err == nil {
		t.Error("NewBridge() without manager should fail")
	}
	if _, err := NewBridge(BridgeOptions{Manager: m}); err == nil {
		t.Error("NewBridge() without mqtt should fail")
	}
	if _, err := NewBridge(BridgeOptions{Manager: m, MQTT: newMockMQTT(), QoS: 3}); err == nil {
		t.Error("NewBridge() with qos 3 should fail")
	}
}

func TestBridge_StartSubscribesAndReportsHealth(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	_, client := newTestBridge(t, m)

	if _, ok := client.handlers["adms/command/+"]; !ok {
		t.Fatal("bridge did not subscribe to adms/command/+")
	}

	health := client.on("adms/health")
	if len(health) < 2 {
		t.Fatalf("health publishes = %d, want starting + healthy", len(health))
	}
	var first, last HealthMessage
	_ = json.Unmarshal(health[0].payload, &first)
	_ = json.Unmarshal(health[len(health)-1].payload, &last)
	if first.Status != HealthStarting || last.Status != HealthHealthy || !health[0].retained {
		t.Errorf("health = %s then %s", first.Status, last.Status)
	}
}

func TestBridge_RawCommandRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, 2*time.Second)
	d := device{m, "SN1"}
	s, _ := m.Resolve("SN1")
	_, client := newTestBridge(t, m)

	client.send("adms/command/+", "adms/command/SN1",
		[]byte(`{"id":"cmd-1","command":"raw","text":"C:1:CHECK"}`))

	var ack AckMessage
	_ = json.Unmarshal(client.waitFor(t, "adms/ack/SN1").payload, &ack)
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v", ack)
	}

	waitForState(t, s, AwaitingTransmission)
	if got := s.Current().Source; got != "mqtt" {
		t.Errorf("command source = %q, want mqtt", got)
	}
	if text := serveOne(t, d, s, "ID=1&Return=0&CMD=CHECK"); text != "C:1:CHECK" {
		t.Errorf("device received %q", text)
	}

	var resp struct {
		ResponseMessage
		Result CommandResult `json:"result"`
	}
	_ = json.Unmarshal(client.waitFor(t, "adms/response/SN1").payload, &resp)
	if resp.CommandID != "cmd-1" || resp.Status != ResponseCompleted {
		t.Errorf("response = %+v", resp.ResponseMessage)
	}
	if resp.Result.Response != "ID=1&Return=0&CMD=CHECK" {
		t.Errorf("result response = %q", resp.Result.Response)
	}
}

func TestBridge_UnknownDevice(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	_, client := newTestBridge(t, m)

	client.send("adms/command/+", "adms/command/NOPE", []byte(`{"id":"x","command":"sync_clock"}`))

	var resp ResponseMessage
	_ = json.Unmarshal(client.waitFor(t, "adms/response/NOPE").payload, &resp)
	if resp.Status != ResponseFailed || resp.Error == nil || resp.Error.Code != ErrCodeDeviceNotFound {
		t.Errorf("response = %+v", resp)
	}
	if resp.Result != nil {
		t.Errorf("result = %v, want nil on failure", resp.Result)
	}
}

func TestBridge_RejectsBadPayloads(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	b, client := newTestBridge(t, m)

	client.send("adms/command/+", "adms/command/SN1", []byte(`not json`))
	client.send("adms/command/+", "adms/command/SN1", []byte(`{"command":"reboot"}`))

	acks := client.on("adms/ack/SN1")
	if len(acks) != 2 {
		t.Fatalf("acks = %d, want 2", len(acks))
	}
	for _, a := range acks {
		var ack AckMessage
		_ = json.Unmarshal(a.payload, &ack)
		if ack.Status != AckFailed || ack.Error.Code != ErrCodeInvalidCommand {
			t.Errorf("ack = %+v", ack)
		}
	}

	var ack AckMessage
	_ = json.Unmarshal(acks[1].payload, &ack)
	if ack.CommandID == "" {
		t.Error("command without id should be assigned one")
	}
	if got := b.Statistics(); got.CommandsReceived != 2 || got.CommandsFailed != 2 {
		t.Errorf("stats = %+v", got)
	}
}

func TestBridge_Cancel(t *testing.T) {
	m, _ := newTestManager(t, 2*time.Second)
	s, _ := m.Resolve("SN1")
	_, client := newTestBridge(t, m)

	done := issueAsync(func(ctx context.Context) (*CommandResult, error) {
		return s.IssueCommand(ctx, "C:1:CHECK")
	})
	waitForState(t, s, AwaitingTransmission)

	client.send("adms/command/+", "adms/command/SN1", []byte(`{"id":"c","command":"cancel"}`))

	var resp struct {
		ResponseMessage
		Result map[string]bool `json:"result"`
	}
	_ = json.Unmarshal(client.waitFor(t, "adms/response/SN1").payload, &resp)
	if !resp.Result["cancelled"] {
		t.Errorf("response = %+v", resp)
	}
	if out := receive(t, done); !errors.Is(out.err, ErrCommandCancelled) {
		t.Errorf("waiter error = %v, want ErrCommandCancelled", out.err)
	}
}

func TestBridge_StopAbortsInFlight(t *testing.T) {
	m, _ := newTestManager(t, 5*time.Second)
	m.Resolve("SN1")
	b, client := newTestBridge(t, m)

	client.send("adms/command/+", "adms/command/SN1", []byte(`{"id":"s","command":"raw","text":"C:1:CHECK"}`))
	client.waitFor(t, "adms/ack/SN1")

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()
	receive(t, stopped)

	var resp ResponseMessage
	_ = json.Unmarshal(client.waitFor(t, "adms/response/SN1").payload, &resp)
	if resp.Status != ResponseCancelled {
		t.Errorf("status = %s, want cancelled after stop", resp.Status)
	}

	health := client.on("adms/health")
	var last HealthMessage
	_ = json.Unmarshal(health[len(health)-1].payload, &last)
	if last.Status != HealthStopping {
		t.Errorf("final health = %s, want stopping", last.Status)
	}
}

func TestBridge_PublishesEvents(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	b, client := newTestBridge(t, m)

	b.HandleEvent(NewEvent(EventDeviceConnected, "SN1", "first contact"))
	b.HandleEvent(NewEvent(EventDeviceMessage, "SN1", "device request"))

	got := client.on("adms/event/SN1/device_connected")
	if len(got) != 1 {
		t.Fatalf("device_connected publishes = %d, want 1", len(got))
	}
	var e Event
	_ = json.Unmarshal(got[0].payload, &e)
	if e.SerialNumber != "SN1" || e.Type != EventDeviceConnected {
		t.Errorf("event = %+v", e)
	}
	if len(client.on("adms/event/SN1/device_message")) != 0 {
		t.Error("device_message should not be published")
	}
	if b.Statistics().EventsPublished != 1 {
		t.Errorf("EventsPublished = %d", b.Statistics().EventsPublished)
	}
}

func TestBridge_PublishErrorsDegradeHealth(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	b, client := newTestBridge(t, m)

	client.mu.Lock()
	client.failWith = errors.New("broker gone")
	client.mu.Unlock()
	b.HandleEvent(NewEvent(EventRecord, "SN1", "row"))

	if b.Statistics().PublishErrors != 1 {
		t.Fatalf("PublishErrors = %d, want 1", b.Statistics().PublishErrors)
	}

	client.mu.Lock()
	client.failWith = nil
	client.mu.Unlock()
	if err := b.health.PublishNow(); err != nil {
		t.Fatal(err)
	}

	health := client.on("adms/health")
	var msg HealthMessage
	_ = json.Unmarshal(health[len(health)-1].payload, &msg)
	if msg.Status != HealthDegraded || !strings.Contains(msg.Reason, "publish errors") {
		t.Errorf("health = %+v", msg)
	}

	if err := b.health.PublishNow(); err != nil {
		t.Fatal(err)
	}
	health = client.on("adms/health")
	_ = json.Unmarshal(health[len(health)-1].payload, &msg)
	if msg.Status != HealthHealthy {
		t.Errorf("health after recovery = %s, want healthy", msg.Status)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status ResponseStatus
	}{
		{ErrDeviceNotFound, ErrCodeDeviceNotFound, ResponseFailed},
		{ErrCommandBusy, ErrCodeDeviceBusy, ResponseFailed},
		{ErrCommandTimeout, ErrCodeTimeout, ResponseTimeout},
		{ErrCommandCancelled, ErrCodeCancelled, ResponseCancelled},
		{context.Canceled, ErrCodeCancelled, ResponseCancelled},
		{context.DeadlineExceeded, ErrCodeTimeout, ResponseTimeout},
		{ErrUnknownTable, ErrCodeInvalidParameters, ResponseFailed},
		{ErrInvalidCommand, ErrCodeInvalidCommand, ResponseFailed},
		{errors.New("other"), ErrCodeCommandFailed, ResponseFailed},
	}
	for _, tt := range tests {
		code, status := errorCode(tt.err)
		if code != tt.code || status != tt.status {
			t.Errorf("errorCode(%v) = %s, %s; want %s, %s", tt.err, code, status, tt.code, tt.status)
		}
	}
}
