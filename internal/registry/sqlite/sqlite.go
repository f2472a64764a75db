// Package sqlite registers the "sqlite" registry source (pure-Go driver).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recon/internal/registry"
)

func init() {
	registry.Register("sqlite", func(ctx context.Context, cfg registry.SourceConfig) (registry.Source, error) {
		return Open(ctx, cfg.DSN, cfg.Table)
	})
}

// Open opens and pings the database. The source only ever selects.
//
// DSN is passed to the driver as-is, e.g. "models.db" or
// "file:models.db?mode=ro".
func Open(ctx context.Context, dsn, table string) (*registry.SQLSource, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	src, err := registry.NewSQLSource(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return src, nil
}
