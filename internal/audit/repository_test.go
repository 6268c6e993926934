package audit

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_logs (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT,
			source      TEXT NOT NULL,
			details     TEXT,
			created_at  TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

// ===== Repository =====

func TestCreateGeneratesIDAndTimestamp(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	log := &AuditLog{Action: "purge", EntityType: EntitySafety, Source: "mfcd"}

	if err := repo.Create(context.Background(), log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(log.ID, "aud-") || len(log.ID) != len("aud-")+8 {
		t.Errorf("ID = %q, want aud-xxxxxxxx", log.ID)
	}
	if log.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	entries := []AuditLog{
		{Action: "emergency_stop", EntityType: EntitySafety, Source: "api", CreatedAt: base},
		{Action: "set_flow", EntityType: EntityDevice, EntityID: "CH4", Source: "mqtt", CreatedAt: base.Add(time.Minute),
			Details: map[string]any{"real": 1.5}},
		{Action: "purge", EntityType: EntitySafety, Source: "mfcd", CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Logs) != 3 {
		t.Fatalf("Total = %d, len = %d, want 3", all.Total, len(all.Logs))
	}
	if all.Logs[0].Action != "purge" {
		t.Errorf("first entry = %q, want most recent (purge)", all.Logs[0].Action)
	}
	if all.Limit != 50 {
		t.Errorf("Limit = %d, want default 50", all.Limit)
	}

	safety, err := repo.List(ctx, Filter{EntityType: EntitySafety})
	if err != nil {
		t.Fatalf("List(safety) error = %v", err)
	}
	if safety.Total != 2 {
		t.Errorf("safety Total = %d, want 2", safety.Total)
	}

	device, err := repo.List(ctx, Filter{EntityID: "CH4"})
	if err != nil {
		t.Fatalf("List(CH4) error = %v", err)
	}
	if len(device.Logs) != 1 || device.Logs[0].Details["real"] != 1.5 {
		t.Errorf("CH4 logs = %+v", device.Logs)
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	res, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != 200 || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want 200/0", res.Limit, res.Offset)
	}
	if res.Logs == nil {
		t.Error("Logs should be an empty slice, not nil")
	}
}

func TestListSourceAndTimeRange(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i, src := range []string{"api", "mqtt", "api", "mfcd"} {
		log := &AuditLog{Action: "set_flow", EntityType: EntityDevice, EntityID: "H2", Source: src,
			CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := repo.Create(ctx, log); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Source: "api"})
	if err != nil {
		t.Fatalf("List(source) error = %v", err)
	}
	if res.Total != 2 {
		t.Errorf("api Total = %d, want 2", res.Total)
	}

	// Since is inclusive and Until exclusive: hours 1 and 2.
	res, err = repo.List(ctx, Filter{Since: base.Add(time.Hour), Until: base.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("List(range) error = %v", err)
	}
	if res.Total != 2 || res.Logs[0].Source != "api" || res.Logs[1].Source != "mqtt" {
		t.Errorf("range logs = %+v, want [api mqtt]", res.Logs)
	}

	// Local-zone bounds compare in UTC.
	local := time.FixedZone("CEST", 2*60*60)
	res, err = repo.List(ctx, Filter{Since: base.Add(3 * time.Hour).In(local)})
	if err != nil {
		t.Fatalf("List(local since) error = %v", err)
	}
	if res.Total != 1 || res.Logs[0].Source != "mfcd" {
		t.Errorf("local since logs = %+v, want [mfcd]", res.Logs)
	}
}

// ===== Recorder =====

func TestRecorder(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	rec := NewRecorder(repo, "mfcd")

	if err := rec.RecordSafetyEvent(ctx, "emergency_stop", map[string]any{"failures": []string{}}); err != nil {
		t.Fatalf("RecordSafetyEvent() error = %v", err)
	}
	if err := rec.WithSource("api").RecordDeviceEvent(ctx, "remove", "H2", nil); err != nil {
		t.Fatalf("RecordDeviceEvent() error = %v", err)
	}
	if err := rec.RecordCalibrationEvent(ctx, "update", "CH4", map[string]any{"points": 4}); err != nil {
		t.Fatalf("RecordCalibrationEvent() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{EntityType: EntityDevice})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Logs) != 1 {
		t.Fatalf("device logs = %d, want 1", len(res.Logs))
	}
	got := res.Logs[0]
	if got.EntityID != "H2" || got.Source != "api" || got.Action != "remove" {
		t.Errorf("device log = %+v", got)
	}

	res, err = repo.List(ctx, Filter{Action: "emergency_stop"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Logs[0].EntityType != EntitySafety {
		t.Errorf("safety logs = %+v", res.Logs)
	}
}
