package testutil

import (
	"context"
	"testing"
)

// TestSetupTestDB verifies the container comes up with the pgvector
// extension and the migrated chunks schema. Skipped under -short.
func TestSetupTestDB(t *testing.T) {
	db := SetupTestDB(t)

	ctx := context.Background()
	if err := db.Pool.Ping(ctx); err != nil {
		t.Fatalf("Pool.Ping: %v", err)
	}

	var hasExtension bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&hasExtension)
	if err != nil {
		t.Fatalf("checking vector extension: %v", err)
	}
	if !hasExtension {
		t.Error("pgvector extension not installed")
	}

	var hasTable bool
	err = db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'chunks')").Scan(&hasTable)
	if err != nil {
		t.Fatalf("checking chunks table: %v", err)
	}
	if !hasTable {
		t.Error("chunks table missing after migrations")
	}
}
