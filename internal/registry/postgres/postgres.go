// Package postgres registers the "postgres" registry source. Model rows are
// read through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recon/internal/config"
	"recon/internal/registry"
)

func init() {
	registry.Register("postgres", func(ctx context.Context, cfg registry.SourceConfig) (registry.Source, error) {
		return Open(ctx, cfg.DSN, cfg.Table)
	})
}

// Source loads models from a Postgres table with (id, definition) columns.
// definition may be json, jsonb or text.
type Source struct {
	pool  *pgxpool.Pool
	query string
}

// Open connects and pings the database.
func Open(ctx context.Context, dsn, table string) (*Source, error) {
	t, err := registry.CheckTable(table)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Source{pool: pool, query: selectQuery(t)}, nil
}

func selectQuery(table string) string {
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return "SELECT id::text, definition::text FROM " + ident + " ORDER BY id"
}

func (s *Source) Load(ctx context.Context) ([]config.ProcessingModel, error) {
	rows, err := s.pool.Query(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	type row struct {
		ID  string
		Def string
	}
	got, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
		var x row
		err := r.Scan(&x.ID, &x.Def)
		return x, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan model rows: %w", err)
	}
	out := make([]config.ProcessingModel, 0, len(got))
	for _, r := range got {
		m, err := registry.DecodeDefinition(r.ID, []byte(r.Def))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Source) Close() error {
	s.pool.Close()
	return nil
}
