package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-adms/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{SerialNumber: "SN1", Type: "device_connected", Message: "first contact", OccurredAt: base},
		{SerialNumber: "SN1", Type: "command_issued", CommandID: "c-1", Fields: map[string]any{"command": "C:1:CHECK"}, OccurredAt: base.Add(time.Second)},
		{SerialNumber: "SN2", Type: "device_connected", OccurredAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 || all.Limit != defaultLimit {
		t.Fatalf("List() = total %d, %d entries, limit %d", all.Total, len(all.Entries), all.Limit)
	}
	if all.Entries[0].SerialNumber != "SN2" {
		t.Errorf("first entry = %s, want newest (SN2)", all.Entries[0].SerialNumber)
	}

	issued := all.Entries[1]
	if issued.CommandID != "c-1" || issued.Fields["command"] != "C:1:CHECK" {
		t.Errorf("issued entry = %+v", issued)
	}
	if !issued.OccurredAt.Equal(base.Add(time.Second)) {
		t.Errorf("OccurredAt = %v", issued.OccurredAt)
	}
}

func TestList_Filters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []string{"device_connected", "command_issued", "command_completed", "command_issued"} {
		serial := "SN1"
		if i == 3 {
			serial = "SN2"
		}
		if err := repo.Create(ctx, &Entry{
			SerialNumber: serial,
			Type:         typ,
			CommandID:    "c-" + serial,
			OccurredAt:   base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by serial", Filter{SerialNumber: "SN1"}, 3},
		{"by type", Filter{Type: "command_issued"}, 2},
		{"by serial and type", Filter{SerialNumber: "SN2", Type: "command_issued"}, 1},
		{"by command", Filter{CommandID: "c-SN2"}, 1},
		{"since", Filter{Since: base.Add(2 * time.Minute)}, 2},
		{"no match", Filter{SerialNumber: "SN9"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.want || len(res.Entries) != tt.want {
				t.Errorf("total = %d, entries = %d; want %d", res.Total, len(res.Entries), tt.want)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &Entry{SerialNumber: "SN1", Type: "ping", OccurredAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Entries) != 2 {
		t.Fatalf("page = total %d, %d entries", page.Total, len(page.Entries))
	}
	if !page.Entries[0].OccurredAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("first of page = %v", page.Entries[0].OccurredAt)
	}

	clamped, _ := repo.List(ctx, Filter{Limit: 10000, Offset: -3})
	if clamped.Limit != maxLimit || clamped.Offset != 0 {
		t.Errorf("clamped = limit %d offset %d", clamped.Limit, clamped.Offset)
	}
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *Entry) error { return errors.New("disk full") }

func (failingRepo) List(context.Context, Filter) (*ListResult, error) { return nil, nil }

type warnLogger struct{ warns int }

func (l *warnLogger) Warn(string, ...any) { l.warns++ }

func TestRecorder(t *testing.T) {
	repo := setupRepo(t)
	rec := NewRecorder(repo, nil)

	rec.HandleEvent(adms.NewEvent(adms.EventDeviceConnected, "SN1", "first contact"))
	rec.HandleEvent(adms.NewEvent(adms.EventDeviceMessage, "SN1", "device request"))
	rec.HandleEvent(adms.NewEvent(adms.EventRecord, "SN1", "row"))

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Entries[0].Type != string(adms.EventDeviceConnected) {
		t.Errorf("recorded = %+v", res.Entries)
	}

	rec.Include(adms.EventDeviceMessage)
	rec.HandleEvent(adms.NewEvent(adms.EventDeviceMessage, "SN1", "device request"))
	res, _ = repo.List(context.Background(), Filter{Type: string(adms.EventDeviceMessage)})
	if res.Total != 1 {
		t.Errorf("device_message recorded %d times after Include, want 1", res.Total)
	}
}

func TestRecorder_LogsFailures(t *testing.T) {
	logger := &warnLogger{}
	rec := NewRecorder(failingRepo{}, logger)

	rec.HandleEvent(adms.NewEvent(adms.EventCommandIssued, "SN1", "command issued"))

	if logger.warns != 1 {
		t.Errorf("warns = %d, want 1", logger.warns)
	}
}
