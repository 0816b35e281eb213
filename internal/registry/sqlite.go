package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/procmgr/internal/module"
)

// SQLite stores one row per module with the spec encoded as JSON
// (modernc.org/sqlite driver, CGO-free). Use ":memory:" for an in-memory store.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, err
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent across calls
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &SQLite{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS modules(
			name TEXT PRIMARY KEY,
			spec_json TEXT NOT NULL
		);`)
	return err
}

func (s *SQLite) Load() (map[string]module.Spec, error) {
	rows, err := s.db.Query(`SELECT name, spec_json FROM modules ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := map[string]module.Spec{}
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		var spec module.Spec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return nil, err
		}
		out[name] = spec
	}
	return out, rows.Err()
}

func (s *SQLite) Save(data map[string]module.Spec) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM modules;`); err != nil {
		_ = tx.Rollback()
		return err
	}
	for name, spec := range data {
		b, err := json.Marshal(spec)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`INSERT INTO modules(name, spec_json) VALUES(?, ?);`, name, string(b)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.db.Close() }
