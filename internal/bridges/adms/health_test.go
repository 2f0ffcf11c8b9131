package adms

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestHealthReporter_Message(t *testing.T) {
	client := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{
		ServerID:  "adms-01",
		Version:   "1.2.3",
		Topic:     "adms/health",
		QoS:       1,
		Publisher: client,
		Devices:   func() int { return 4 },
		Stats:     func() BridgeStatistics { return BridgeStatistics{CommandsReceived: 9} },
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	got := client.on("adms/health")
	if len(got) != 1 || !got[0].retained {
		t.Fatalf("publishes = %+v", got)
	}
	var msg HealthMessage
	if err := json.Unmarshal(got[0].payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Server != "adms-01" || msg.Version != "1.2.3" || msg.Status != HealthHealthy {
		t.Errorf("msg = %+v", msg)
	}
	if msg.DevicesConnected != 4 || msg.Statistics == nil || msg.Statistics.CommandsReceived != 9 {
		t.Errorf("counts = %d, %+v", msg.DevicesConnected, msg.Statistics)
	}
}

func TestHealthReporter_SkipsWhenDisconnected(t *testing.T) {
	client := newMockMQTT()
	client.connected = false
	h := NewHealthReporter(HealthReporterConfig{Topic: "adms/health", Publisher: client})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if len(client.on("adms/health")) != 0 {
		t.Error("published while disconnected")
	}
}

func TestHealthReporter_PeriodicAndStop(t *testing.T) {
	client := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{
		Topic:     "adms/health",
		Interval:  10 * time.Millisecond,
		Publisher: client,
	})

	h.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(client.on("adms/health")) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()
	h.Stop()

	got := client.on("adms/health")
	if len(got) < 3 {
		t.Fatalf("publishes = %d, want at least two ticks and a stop", len(got))
	}
	var last HealthMessage
	_ = json.Unmarshal(got[len(got)-1].payload, &last)
	if last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
}

func TestHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.cfg.Interval != defaultHealthInterval {
		t.Errorf("Interval = %v, want %v", h.cfg.Interval, defaultHealthInterval)
	}
}
