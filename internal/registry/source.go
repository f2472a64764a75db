package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"recon/internal/config"
)

// Source yields model definitions. Sources are read-only.
type Source interface {
	Load(ctx context.Context) ([]config.ProcessingModel, error)
	Close() error
}

// SourceConfig selects and configures a Source.
type SourceConfig struct {
	Kind  string // file, postgres, sqlite, sqlserver, mysql
	DSN   string // database connection string
	Table string // table holding (id, definition) rows
	Path  string // file or directory for Kind "file"
}

// DefaultTable is used by database sources when SourceConfig.Table is empty.
const DefaultTable = "processing_models"

// Factory opens a Source for a registered kind.
type Factory func(ctx context.Context, cfg SourceConfig) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a source kind available to Open. Backends call it from init.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered source kinds.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs the Source registered for cfg.Kind.
func Open(ctx context.Context, cfg SourceConfig) (Source, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown source kind %q (have %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

func init() {
	Register("file", func(_ context.Context, cfg SourceConfig) (Source, error) {
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("registry: file source needs a path")
		}
		return FileSource{Path: cfg.Path}, nil
	})
}

// FileSource reads models from a JSON/YAML file, or from every such file in
// a directory (non-recursive, sorted by name).
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]config.ProcessingModel, error) {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return config.LoadModelsFile(s.Path)
	}

	entries, err := os.ReadDir(s.Path)
	if err != nil {
		return nil, err
	}
	var out []config.ProcessingModel
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ms, err := config.LoadModelsFile(filepath.Join(s.Path, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

func (FileSource) Close() error { return nil }

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CheckTable validates a possibly schema-qualified table name. Database
// sources interpolate it into SQL, so only plain identifiers are allowed.
func CheckTable(t string) (string, error) {
	if t == "" {
		t = DefaultTable
	}
	if !tableName.MatchString(t) {
		return "", fmt.Errorf("registry: invalid table name %q", t)
	}
	return t, nil
}

// DecodeDefinition turns one stored (id, definition) row into a model. The
// row id wins over an id inside the definition.
func DecodeDefinition(id string, def []byte) (config.ProcessingModel, error) {
	var m config.ProcessingModel
	if err := json.Unmarshal(def, &m); err != nil {
		return m, fmt.Errorf("model %s: decode definition: %w", id, err)
	}
	if id != "" {
		m.ID = id
	}
	return m, nil
}

// SQLSource reads models from a database/sql handle. It backs the sqlite,
// sqlserver and mysql kinds.
type SQLSource struct {
	DB    *sql.DB
	Query string
}

// NewSQLSource builds the select statement for table.
func NewSQLSource(db *sql.DB, table string) (*SQLSource, error) {
	t, err := CheckTable(table)
	if err != nil {
		return nil, err
	}
	return &SQLSource{DB: db, Query: "SELECT id, definition FROM " + t + " ORDER BY id"}, nil
}

func (s *SQLSource) Load(ctx context.Context) ([]config.ProcessingModel, error) {
	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []config.ProcessingModel
	for rows.Next() {
		var (
			id  string
			def []byte
		)
		if err := rows.Scan(&id, &def); err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		m, err := DecodeDefinition(id, def)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLSource) Close() error { return s.DB.Close() }
