package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"convoingest/internal/db"
	"convoingest/internal/repository"
)

// MustOpenSQLiteRepository opens a schema-ready SQLite repository in a temp
// directory and registers cleanup.
func MustOpenSQLiteRepository(t testing.TB) repository.ConversationRepository {
	t.Helper()

	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("db.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})
	if err := db.EnsureSchema(ctx, conn, db.DialectSQLite); err != nil {
		t.Fatalf("db.EnsureSchema: %v", err)
	}
	return repository.NewSQLiteRepository(conn)
}
