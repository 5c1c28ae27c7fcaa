package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// fixedClock returns a clock that starts at start and advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(time.Second)
		return t
	}
}

func testDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "ansuz-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreate(t *testing.T, r *Objects, typ models.ObjectType, title string) *models.Object {
	t.Helper()
	obj, err := r.Create(context.Background(), NewObject{Type: typ, Title: title})
	if err != nil {
		t.Fatalf("Create(%s, %q): %v", typ, title, err)
	}
	return obj
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM objects`).Scan(&count); err != nil {
		t.Fatalf("objects table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM relations`).Scan(&count); err != nil {
		t.Fatalf("relations table missing: %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	f, err := os.CreateTemp("", "ansuz-reopen-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	for i := 0; i < 2; i++ {
		db, err := Open(f.Name())
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		db.Close()
	}
}

func TestOpenMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	objs := NewObjects(db)
	obj := mustCreate(t, objs, models.TypeNote, "in memory")
	if _, err := objs.Get(context.Background(), obj.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestSchemaRejectsDirectSelfRelation(t *testing.T) {
	db := testDB(t)
	objs := NewObjects(db)
	a := mustCreate(t, objs, models.TypeNote, "a")
	_, err := db.conn.Exec(`INSERT INTO relations (id, from_object_id, to_object_id, relation_type, created_at)
		VALUES ('r1', ?, ?, 'related_to', '2025-01-01T00:00:00.000000000Z')`, a.ID, a.ID)
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
	if !errors.Is(classify("insert", err), apperr.ErrValidation) {
		t.Errorf("classify = %v, want validation", classify("insert", err))
	}
}

func TestSchemaRejectsUnknownType(t *testing.T) {
	db := testDB(t)
	_, err := db.conn.Exec(`INSERT INTO objects (id, type, title, created_at, updated_at)
		VALUES ('x', 'spaceship', 't', '2025-01-01T00:00:00.000000000Z', '2025-01-01T00:00:00.000000000Z')`)
	if err == nil {
		t.Fatal("expected CHECK constraint failure for unknown type")
	}
}

func TestDailyNoteUniqueIndex(t *testing.T) {
	db := testDB(t)
	objs := NewObjects(db)
	ctx := context.Background()

	props := models.Properties{models.DailyNoteDateKey: "2025-01-15"}
	if _, err := objs.Create(ctx, NewObject{Type: models.TypeDailyNote, Title: "Daily Note - 2025-01-15", Properties: props}); err != nil {
		t.Fatalf("first daily note: %v", err)
	}
	_, err := objs.Create(ctx, NewObject{Type: models.TypeDailyNote, Title: "dup", Properties: props})
	if !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("second daily note err = %v, want ErrUniqueViolation", err)
	}
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("unique violation should also be a conflict: %v", err)
	}

	// The same date property on another type is not constrained.
	if _, err := objs.Create(ctx, NewObject{Type: models.TypeTask, Title: "task", Properties: props}); err != nil {
		t.Fatalf("task with date property: %v", err)
	}
}

func TestFormatTimeIsFixedWidth(t *testing.T) {
	a := formatTime(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	b := formatTime(time.Date(2025, 1, 15, 9, 0, 0, 123, time.FixedZone("CET", 3600)))
	if len(a) != len(b) {
		t.Fatalf("widths differ: %q vs %q", a, b)
	}
	if a[:10] != "2025-01-15" || b[:10] != "2025-01-15" {
		t.Errorf("date prefix wrong: %q %q", a, b)
	}
	parsed, err := parseTime(b)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !parsed.Equal(time.Date(2025, 1, 15, 8, 0, 0, 123, time.UTC)) {
		t.Errorf("round trip = %v", parsed)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(3); got != "?, ?, ?" {
		t.Errorf("placeholders(3) = %q", got)
	}
	if got := placeholders(0); got != "" {
		t.Errorf("placeholders(0) = %q", got)
	}
}
