package adms

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
)

// defaultCommandTimeout applies when the configuration leaves it unset.
const defaultCommandTimeout = 10 * time.Second

// Manager maps serial numbers to sessions and dispatches device requests.
//
// Sessions are created on first contact and live for the lifetime of the
// process.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	cfg    config.PushConfig
	sink   EventSink
	logger Logger
	clock  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Config holds the device-facing protocol settings.
	Config config.PushConfig

	// Sink receives device events. Usually a *Notifier. Optional.
	Sink EventSink

	// Logger is optional.
	Logger Logger

	// Clock overrides time.Now, for tests. Optional.
	Clock func() time.Time
}

// NewManager creates an empty Manager.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		cfg:      opts.Config,
		sink:     opts.Sink,
		logger:   opts.Logger,
		clock:    opts.Clock,
		sessions: make(map[string]*Session),
	}
	if m.cfg.CommandTimeout <= 0 {
		m.cfg.CommandTimeout = defaultCommandTimeout
	}
	if m.sink == nil {
		m.sink = noopSink{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	return m
}

// Resolve returns the session for serial, creating it if needed. created
// is true for exactly one caller per serial number, and that call emits
// device_connected.
func (m *Manager) Resolve(serial string) (session *Session, created bool) {
	m.mu.Lock()
	s, ok := m.sessions[serial]
	if !ok {
		s = newSession(serial, &m.cfg, m.sink, m.logger, m.clock)
		m.sessions[serial] = s
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Info("device connected", "serial_number", serial)
		s.emit(NewEvent(EventDeviceConnected, serial, "device connected"))
	}
	return s, !ok
}

// Get returns the session for serial without creating one.
func (m *Manager) Get(serial string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[serial]
	return s, ok
}

// Session is Get returning ErrDeviceNotFound when absent.
func (m *Manager) Session(serial string) (*Session, error) {
	s, ok := m.Get(serial)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
	}
	return s, nil
}

// Sessions returns all sessions ordered by serial number.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].serial < out[j].serial
	})
	return out
}

// Count returns the number of known devices.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Dispatch routes a device request to its session.
//
// A request without an SN query parameter is answered 400 without
// touching the registry. A panicking handler is answered 500; the
// session lock is released by the handler's deferred unlock.
func (m *Manager) Dispatch(req Request) (resp Response) {
	serial := strings.TrimSpace(req.Query.Get("SN"))
	if serial == "" {
		m.logger.Warn("device request without serial number", "path", req.Path)
		return textResponse(http.StatusBadRequest, bodyMissingSerial)
	}

	session, _ := m.Resolve(serial)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrHandlerFault, r)
			m.logger.Error("device request handler panicked",
				"serial_number", serial,
				"path", req.Path,
				"error", err)
			session.emit(Event{
				Type:    EventHandlerFault,
				Message: "handler fault",
				Fields:  map[string]any{"path": req.Path, "error": err.Error()},
			})
			resp = textResponse(http.StatusInternalServerError, bodyInternalError)
		}
	}()

	return session.Handle(req)
}
