package adms

import (
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatch_MissingSerialNumber(t *testing.T) {
	m, _ := newTestManager(t, time.Second)

	for _, query := range []url.Values{{}, {"SN": {""}}, {"SN": {"   "}}} {
		resp := m.Dispatch(Request{Method: http.MethodGet, Path: "/iclock/cdata", Query: query})
		if resp.Status != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", resp.Status)
		}
		if resp.Body != "Invalid request: Missing serial number" {
			t.Errorf("Body = %q", resp.Body)
		}
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
}

// panicSink panics on the first device_message it sees.
type panicSink struct {
	armed  atomic.Bool
	faults atomic.Int32
}

func (p *panicSink) HandleEvent(e Event) {
	if e.Type == EventHandlerFault {
		p.faults.Add(1)
	}
	if e.Type == EventDeviceMessage && p.armed.CompareAndSwap(true, false) {
		panic("boom")
	}
}

func TestDispatch_HandlerFault(t *testing.T) {
	sink := &panicSink{}
	sink.armed.Store(true)
	m := NewManager(ManagerOptions{Config: testPushConfig(time.Second), Sink: sink})
	d := device{m, "SN1"}

	resp := d.get("ping")
	if resp.Status != http.StatusInternalServerError {
		t.Fatalf("Status = %d, want 500", resp.Status)
	}
	if resp.Body != "Internal server error" {
		t.Errorf("Body = %q", resp.Body)
	}
	if sink.faults.Load() != 1 {
		t.Errorf("handler_fault events = %d, want 1", sink.faults.Load())
	}

	// The session lock was released and the session keeps working.
	done := make(chan Response, 1)
	go func() { done <- d.get("ping") }()
	if resp := receive(t, done); resp.Status != http.StatusOK {
		t.Errorf("request after fault = %d, want 200", resp.Status)
	}
}

func TestManager_Lookup(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	for _, sn := range []string{"C", "A", "B"} {
		device{m, sn}.get("ping")
	}

	var serials []string
	for _, s := range m.Sessions() {
		serials = append(serials, s.SerialNumber())
	}
	if len(serials) != 3 || serials[0] != "A" || serials[1] != "B" || serials[2] != "C" {
		t.Errorf("Sessions() = %v, want [A B C]", serials)
	}

	if _, ok := m.Get("Z"); ok {
		t.Error("Get(Z) found a session")
	}
	if _, err := m.Session("Z"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Session(Z) error = %v, want ErrDeviceNotFound", err)
	}
	if m.Count() != 3 {
		t.Errorf("Count() = %d, want 3", m.Count())
	}
}

func TestNewManager_DefaultTimeout(t *testing.T) {
	m := NewManager(ManagerOptions{})
	if m.cfg.CommandTimeout != defaultCommandTimeout {
		t.Errorf("CommandTimeout = %v, want %v", m.cfg.CommandTimeout, defaultCommandTimeout)
	}
}
