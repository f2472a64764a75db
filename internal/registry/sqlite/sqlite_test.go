package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"recon/internal/registry"
)

func TestSQLiteSource_Load(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "models.db")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	stmts := []string{
		`CREATE TABLE processing_models (id TEXT PRIMARY KEY, definition TEXT NOT NULL)`,
		`INSERT INTO processing_models VALUES ('wave', '{"name":"Wave","filePattern":"*wave*","fileType":"partner","autoApply":true}')`,
		`INSERT INTO processing_models VALUES ('bo', '{"id":"ignored","filePattern":"bo_*","fileType":"bo","autoApply":true}')`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	db.Close()

	src, err := registry.Open(ctx, registry.SourceConfig{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(src)
	defer reg.Close()

	ix, err := reg.Reload(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 2 {
		t.Fatalf("Len = %d", ix.Len())
	}
	if m, ok := ix.Lookup("export_WAVE.csv"); !ok || m.ID != "wave" {
		t.Fatalf("Lookup = %q,%v", m.ID, ok)
	}
	if _, ok := ix.Get("bo"); !ok {
		t.Fatal("row id must override definition id")
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), "  ", ""); err == nil {
		t.Fatal("empty DSN must fail")
	}
	if _, err := Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), "bad name"); err == nil {
		t.Fatal("invalid table must fail")
	}
}
