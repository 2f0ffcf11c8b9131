package adms

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
)

// recordingSink stores every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) HandleEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingSink) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testPushConfig(timeout time.Duration) config.PushConfig {
	return config.PushConfig{
		CommandTimeout:  timeout,
		ServerBanner:    "nginx/1.6.0",
		CDataDirectives: config.CDataBasic,
		Delay:           10,
		TransferTimes:   "00:00;14:05",
		Parameters: config.PushParameters{
			ServerVersion: "3.0.1",
			ServerName:    "ADMS",
			PushVersion:   "3.0.1",
			ErrorDelay:    10,
			RequestDelay:  3,
			TransInterval: 1,
			TransTables:   "User Transaction Facev7 templatev10",
			TimeZone:      -3,
			RealTime:      1,
			TimeoutSec:    10,
		},
	}
}

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	m := NewManager(ManagerOptions{
		Config: testPushConfig(timeout),
		Sink:   sink,
	})
	return m, sink
}

// device simulates one terminal talking to a Manager.
type device struct {
	m      *Manager
	serial string
}

func (d device) get(route string) Response {
	return d.m.Dispatch(Request{
		Method: http.MethodGet,
		Path:   "/iclock/" + route,
		Query:  url.Values{"SN": {d.serial}},
	})
}

func (d device) post(route, body string) Response {
	return d.m.Dispatch(Request{
		Method: http.MethodPost,
		Path:   "/iclock/" + route,
		Query:  url.Values{"SN": {d.serial}},
		Body:   []byte(body),
	})
}

// waitForState polls until the session's command reaches state.
func waitForState(t *testing.T, s *Session, state CommandState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := s.Current(); c != nil && c.State == state.String() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("command never reached state %s (current %+v)", state, s.Current())
}

type issueOutcome struct {
	result *CommandResult
	err    error
}

// issueAsync runs fn in a goroutine and returns its outcome channel.
func issueAsync(fn func(ctx context.Context) (*CommandResult, error)) <-chan issueOutcome {
	ch := make(chan issueOutcome, 1)
	go func() {
		res, err := fn(context.Background())
		ch <- issueOutcome{res, err}
	}()
	return ch
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for result")
		var zero T
		return zero
	}
}
