package repo

import (
	"errors"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

func TestSQLiteDSN(t *testing.T) {
	for _, path := range []string{"app.db", "file:app.db?cache=shared"} {
		dsn := sqliteDSN(path)
		if !strings.HasPrefix(dsn, path) {
			t.Fatalf("dsn %q lost path %q", dsn, path)
		}
		u, err := url.Parse(dsn)
		if err != nil {
			t.Fatalf("parse %q: %v", dsn, err)
		}
		got := u.Query()["_pragma"]
		if strings.Join(got, ",") != strings.Join(pragmas, ",") {
			t.Fatalf("%s: pragmas = %v", path, got)
		}
	}
}

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "app.db")
	db, err := OpenSQLite(path)
	if db != nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("OpenSQLite(%q) = %v, %v", path, db, err)
	}
}

func TestOpenSQLite_ConfiguresEveryConnection(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "dm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if n := sqlDB.Stats().MaxOpenConnections; n != maxOpenConns {
		t.Fatalf("MaxOpenConnections = %d", n)
	}

	// Hold one connection so the checks below run on a second one.
	tx := db.Begin()
	defer tx.Rollback()

	want := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	}
	for pragma, v := range want {
		var got string
		if err := db.Raw("PRAGMA " + pragma).Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", pragma, err)
		}
		if strings.ToLower(got) != v {
			t.Errorf("PRAGMA %s = %q; want %q", pragma, got, v)
		}
	}
}

func TestAutoMigrate_CreatesSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "dm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// Running twice is a no-op.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate again: %v", err)
	}

	models := []any{
		&domain.User{}, &domain.Message{}, &domain.MessageRequest{}, &domain.Block{},
		&domain.PinnedChat{}, &domain.StarredMessage{}, &domain.Idempotency{},
	}
	for _, m := range models {
		if !db.Migrator().HasTable(m) {
			t.Errorf("missing table for %T", m)
		}
	}

	// Foreign keys are enforced: a message from an unknown sender fails.
	orphan := &domain.Message{ID: "m1", SenderID: "ghost", RecipientID: "ghost2", Content: "hi", MessageType: domain.MessageText}
	if err := db.Create(orphan).Error; err == nil {
		t.Fatal("orphan message inserted; foreign keys are off")
	}
}
