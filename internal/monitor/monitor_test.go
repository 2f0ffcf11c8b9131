package monitor

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
)

// terminal simulates a device that answers every command it fetches.
type terminal struct {
	m      *adms.Manager
	serial string

	mu       sync.Mutex
	rows     []adms.Transaction
	commands []string
}

func (d *terminal) setRows(rows ...adms.Transaction) {
	d.mu.Lock()
	d.rows = rows
	d.mu.Unlock()
}

func (d *terminal) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *terminal) call(method, route, body string) string {
	return d.m.Dispatch(adms.Request{
		Method: method,
		Path:   "/iclock/" + route,
		Query:  url.Values{"SN": {d.serial}},
		Body:   []byte(body),
	}).Body
}

// run polls getrequest until ctx ends.
func (d *terminal) run(ctx context.Context) {
	for ctx.Err() == nil {
		text := d.call(http.MethodGet, "getrequest", "")
		if text == "OK" || text == "" {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		d.mu.Lock()
		d.commands = append(d.commands, text)
		rows := append([]adms.Transaction(nil), d.rows...)
		d.mu.Unlock()

		switch {
		case strings.Contains(text, "GET OPTIONS"):
			d.call(http.MethodPost, "querydata", "~DeviceName=SpeedFace-V5L")
			d.call(http.MethodPost, "devicecmd", "ID=1&Return=0&CMD=GET OPTIONS")
		case strings.Contains(text, "DATA QUERY"):
			lines := make([]string, 0, len(rows))
			for _, r := range rows {
				lines = append(lines, "transaction "+r.ToProtocol())
			}
			if len(lines) > 0 {
				d.call(http.MethodPost, "querydata", strings.Join(lines, "\r\n"))
			}
			d.call(http.MethodPost, "devicecmd", "ID=1&Return=0&CMD=DATA")
		default:
			d.call(http.MethodPost, "devicecmd", "ID=1&Return=0&CMD=SET OPTIONS")
		}
	}
}

func testPushConfig() config.PushConfig {
	return config.PushConfig{
		CommandTimeout:  2 * time.Second,
		ServerBanner:    "nginx/1.6.0",
		CDataDirectives: config.CDataBasic,
		Delay:           10,
		TransferTimes:   "00:00;14:05",
		Parameters: config.PushParameters{
			ServerVersion: "3.0.1",
			PushVersion:   "3.0.1",
			TransTables:   "User Transaction",
			TimeoutSec:    10,
		},
	}
}

func tx(pin string, at time.Time) adms.Transaction {
	return adms.Transaction{Pin: pin, Verified: 1, DoorID: 1, DateTime: at}
}

func TestMonitor_Routine(t *testing.T) {
	t1 := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	batches := make(chan []adms.Transaction, 8)
	mon := New(Options{
		Config: config.MonitorConfig{
			Enabled:             true,
			SyncClock:           true,
			OptionKeys:          []string{"DeviceName"},
			TransactionInterval: 20 * time.Millisecond,
		},
		OnTransactions: func(serial string, txs []adms.Transaction) {
			if serial != "SN1" {
				t.Errorf("serial = %q, want SN1", serial)
			}
			batches <- txs
		},
	})

	m := adms.NewManager(adms.ManagerOptions{Config: testPushConfig(), Sink: mon})
	mon.sessions = m

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)

	d := &terminal{m: m, serial: "SN1"}
	d.setRows(tx("1", t1))
	go d.run(ctx)

	first := nextBatch(t, batches)
	if len(first) != 1 || first[0].Pin != "1" || !first[0].DateTime.Equal(t1) {
		t.Fatalf("first batch = %+v", first)
	}

	d.setRows(tx("1", t1), tx("2", t2))
	second := nextBatch(t, batches)
	if len(second) != 1 || second[0].Pin != "2" {
		t.Fatalf("second batch = %+v, want only pin 2", second)
	}

	mon.Stop()
	cancel()

	cmds := d.seen()
	if len(cmds) < 4 {
		t.Fatalf("device saw %d commands, want at least 4: %q", len(cmds), cmds)
	}
	if !strings.HasPrefix(cmds[0], "C:1:SET OPTIONS DateTime=") {
		t.Errorf("first command = %q, want clock sync", cmds[0])
	}
	if cmds[1] != "C:1:GET OPTIONS ~DeviceName" {
		t.Errorf("second command = %q, want option read", cmds[1])
	}
	if cmds[2] != "C:1:DATA QUERY tablename=transaction,fielddesc=*,filter=*" {
		t.Errorf("third command = %q, want transaction pull", cmds[2])
	}

	stats := mon.Stats()
	if stats.Devices != 1 || stats.ClockSyncs != 1 || stats.Transactions != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.Polls < 2 {
		t.Errorf("Stats().Polls = %d, want at least 2", stats.Polls)
	}
	if opts := m.Sessions()[0].Info().Options; opts["DeviceName"] != "SpeedFace-V5L" {
		t.Errorf("session options = %v", opts)
	}
}

func nextBatch(t *testing.T, ch <-chan []adms.Transaction) []adms.Transaction {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transactions")
		return nil
	}
}

// countingSource records lookups and never finds a device.
type countingSource struct{ calls atomic.Int32 }

func (c *countingSource) Session(serial string) (*adms.Session, error) {
	c.calls.Add(1)
	return nil, adms.ErrDeviceNotFound
}

func TestMonitor_HandleEvent(t *testing.T) {
	src := &countingSource{}
	mon := New(Options{Sessions: src, Config: config.MonitorConfig{Enabled: true}})

	connected := adms.NewEvent(adms.EventDeviceConnected, "SN1", "device connected")

	// Not started yet.
	mon.HandleEvent(connected)

	mon.Start(context.Background())
	mon.HandleEvent(adms.NewEvent(adms.EventDeviceMessage, "SN1", "device request"))
	mon.HandleEvent(connected)
	mon.HandleEvent(connected)
	mon.HandleEvent(adms.NewEvent(adms.EventDeviceConnected, "SN2", "device connected"))
	mon.Stop()

	if got := src.calls.Load(); got != 2 {
		t.Errorf("session lookups = %d, want 2", got)
	}
	if got := mon.Stats().Devices; got != 2 {
		t.Errorf("Stats().Devices = %d, want 2", got)
	}

	// Stopped monitors ignore new devices.
	mon.HandleEvent(adms.NewEvent(adms.EventDeviceConnected, "SN3", "device connected"))
	if got := src.calls.Load(); got != 2 {
		t.Errorf("session lookups after Stop = %d, want 2", got)
	}
}

func TestMonitor_FilterNew(t *testing.T) {
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	mon := New(Options{})

	got := mon.filterNew("SN1", []adms.Transaction{
		tx("2", base.Add(time.Minute)),
		tx("1", base),
		tx("3", base.Add(time.Minute)),
	})
	if pins := pinsOf(got); pins != "1,2,3" {
		t.Errorf("first pass = %s, want 1,2,3", pins)
	}

	// Same rows again plus one more at the high-water mark and one older.
	got = mon.filterNew("SN1", []adms.Transaction{
		tx("0", base.Add(-time.Hour)),
		tx("1", base),
		tx("2", base.Add(time.Minute)),
		tx("3", base.Add(time.Minute)),
		tx("4", base.Add(time.Minute)),
	})
	if pins := pinsOf(got); pins != "4" {
		t.Errorf("second pass = %s, want 4", pins)
	}

	// Devices are tracked independently.
	got = mon.filterNew("SN2", []adms.Transaction{tx("1", base)})
	if pins := pinsOf(got); pins != "1" {
		t.Errorf("other device = %s, want 1", pins)
	}
}

func pinsOf(txs []adms.Transaction) string {
	pins := make([]string, 0, len(txs))
	for _, t := range txs {
		pins = append(pins, t.Pin)
	}
	return strings.Join(pins, ",")
}

func TestMonitor_PollFailureCounted(t *testing.T) {
	m := adms.NewManager(adms.ManagerOptions{Config: testPushConfig()})
	s, _ := m.Resolve("SN1")

	mon := New(Options{Sessions: m})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mon.poll(ctx, s)

	if got := mon.Stats().Failures; got != 1 {
		t.Errorf("Stats().Failures = %d, want 1", got)
	}
	if got := mon.Stats().Polls; got != 0 {
		t.Errorf("Stats().Polls = %d, want 0", got)
	}
}
