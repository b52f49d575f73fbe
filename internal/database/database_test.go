package database

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpenAndMigrate(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "data", "ragpipe.db")
	db, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// A second run has nothing to apply and must not fail.
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() rerun error = %v", err)
	}

	_, err = db.Exec(`INSERT INTO chunks (id, source_id, content, start_offset, end_offset, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"abc123", "docs/a.md", "alpha", 0, 5, []byte{0, 0, 0, 0}, "{}", time.Now().UTC())
	if err != nil {
		t.Fatalf("insert into chunks failed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE source_id = ?`, "docs/a.md").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
