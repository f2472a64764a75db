// Package mysql registers the "mysql" registry source.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"recon/internal/registry"
)

func init() {
	registry.Register("mysql", func(ctx context.Context, cfg registry.SourceConfig) (registry.Source, error) {
		return Open(ctx, cfg.DSN, cfg.Table)
	})
}

// Open parses the DSN with the driver's own parser, connects and pings.
func Open(ctx context.Context, dsn, table string) (*registry.SQLSource, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(conn)
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
