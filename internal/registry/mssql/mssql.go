// Package mssql registers the "sqlserver" registry source.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"recon/internal/registry"
)

func init() {
	registry.Register("sqlserver", func(ctx context.Context, cfg registry.SourceConfig) (registry.Source, error) {
		return Open(ctx, cfg.DSN, cfg.Table)
	})
}

// Open validates the DSN, connects and pings.
func Open(ctx context.Context, dsn, table string) (*registry.SQLSource, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	src, err := registry.NewSQLSource(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return src, nil
}
