package monitor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
)

// commandSource tags the commands the monitor issues.
const commandSource = "monitor"

// SessionSource looks up device sessions. *adms.Manager satisfies it.
type SessionSource interface {
	Session(serial string) (*adms.Session, error)
}

// TransactionHandler receives transactions not seen before for a device,
// oldest first.
type TransactionHandler func(serial string, txs []adms.Transaction)

// Logger is the structured logger used by the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Monitor.
type Options struct {
	Config   config.MonitorConfig
	Sessions SessionSource

	// OnTransactions is optional.
	OnTransactions TransactionHandler

	// Logger is optional.
	Logger Logger
}

// Stats counts monitor activity since start.
type Stats struct {
	Devices      int    `json:"devices"`
	ClockSyncs   uint64 `json:"clock_syncs"`
	Polls        uint64 `json:"polls"`
	Failures     uint64 `json:"failures"`
	Transactions uint64 `json:"transactions"`
}

// Monitor watches connected devices. See the package documentation.
type Monitor struct {
	cfg      config.MonitorConfig
	sessions SessionSource
	onTx     TransactionHandler
	logger   Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	watching map[string]*deviceState
	stats    Stats

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// deviceState is what the monitor remembers per device.
type deviceState struct {
	latest time.Time
	seen   map[string]bool // pin|time keys at latest
}

// New creates a monitor. Call Start before subscribing it to events.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{
		cfg:      opts.Config,
		sessions: opts.Sessions,
		onTx:     opts.OnTransactions,
		logger:   logger,
		watching: make(map[string]*deviceState),
	}
}

// Start enables the monitor. Devices connecting afterwards are watched
// until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		m.ctx, m.cancel = context.WithCancel(ctx)
	}
}

// Stop cancels every device routine and waits for them to return.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()
		m.wg.Wait()
	})
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Devices = len(m.watching)
	return s
}

// HandleEvent implements adms.EventSink. It starts watching a device on
// its device_connected event.
func (m *Monitor) HandleEvent(e adms.Event) {
	if e.Type != adms.EventDeviceConnected {
		return
	}

	m.mu.Lock()
	ctx := m.ctx
	if ctx == nil || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if _, ok := m.watching[e.SerialNumber]; ok {
		m.mu.Unlock()
		return
	}
	m.watching[e.SerialNumber] = &deviceState{}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.watch(ctx, e.SerialNumber)
	}()
}

// watch runs the per-device routine until ctx ends.
func (m *Monitor) watch(ctx context.Context, serial string) {
	ctx = adms.WithCommandSource(ctx, commandSource)
	session, err := m.sessions.Session(serial)
	if err != nil {
		m.logger.Warn("monitor: device vanished", "serial_number", serial, "error", err)
		return
	}

	if m.cfg.SyncClock {
		if _, err := session.PushClockTime(ctx); err != nil {
			m.fail(serial, "clock sync failed", err)
		} else {
			m.count(func(s *Stats) { s.ClockSyncs++ })
			m.logger.Info("device clock synchronised", "serial_number", serial)
		}
	}

	if len(m.cfg.OptionKeys) > 0 && ctx.Err() == nil {
		opts, err := session.PullOptions(ctx, m.cfg.OptionKeys)
		if err != nil {
			m.fail(serial, "reading options failed", err)
		} else {
			m.logger.Info("device options read", "serial_number", serial, "options", map[string]string(opts))
		}
	}

	if m.cfg.TransactionInterval <= 0 {
		return
	}

	m.poll(ctx, session)

	ticker := time.NewTicker(m.cfg.TransactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx, session)
		}
	}
}

// poll pulls the transaction table once and reports new rows.
func (m *Monitor) poll(ctx context.Context, session *adms.Session) {
	serial := session.SerialNumber()
	txs, _, err := adms.PullRecords[adms.Transaction](ctx, session, adms.TableTransaction)
	if err != nil {
		m.fail(serial, "transaction pull failed", err)
		return
	}

	fresh := m.filterNew(serial, txs)
	m.count(func(s *Stats) {
		s.Polls++
		s.Transactions += uint64(len(fresh))
	})
	m.logger.Debug("transactions pulled", "serial_number", serial, "rows", len(txs), "new", len(fresh))

	if len(fresh) > 0 && m.onTx != nil {
		m.onTx(serial, fresh)
	}
}

// filterNew returns the transactions at or after the latest time seen for
// serial that have not been reported, sorted oldest first, and advances
// the high-water mark.
func (m *Monitor) filterNew(serial string, txs []adms.Transaction) []adms.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.watching[serial]
	if state == nil {
		state = &deviceState{}
		m.watching[serial] = state
	}

	var fresh []adms.Transaction
	for _, tx := range txs {
		key := tx.Pin + "|" + tx.DateTime.Format(time.RFC3339)
		switch {
		case tx.DateTime.Before(state.latest):
			continue
		case tx.DateTime.Equal(state.latest) && state.seen[key]:
			continue
		}
		fresh = append(fresh, tx)
	}
	slices.SortStableFunc(fresh, func(a, b adms.Transaction) int {
		return a.DateTime.Compare(b.DateTime)
	})

	for _, tx := range fresh {
		if tx.DateTime.After(state.latest) {
			state.latest = tx.DateTime
			state.seen = make(map[string]bool)
		}
		if tx.DateTime.Equal(state.latest) {
			if state.seen == nil {
				state.seen = make(map[string]bool)
			}
			state.seen[tx.Pin+"|"+tx.DateTime.Format(time.RFC3339)] = true
		}
	}
	return fresh
}

func (m *Monitor) fail(serial, msg string, err error) {
	m.count(func(s *Stats) { s.Failures++ })
	if errors.Is(err, context.Canceled) {
		return
	}
	m.logger.Warn("monitor: "+msg, "serial_number", serial, "error", err)
}

func (m *Monitor) count(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}
