package variables

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct{ db *sql.DB }

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS tool_variables (
  scope TEXT NOT NULL,
  tool_name TEXT NOT NULL,
  name TEXT NOT NULL,
  kind TEXT NOT NULL,
  value TEXT NOT NULL,
  updated_at TIMESTAMP,
  PRIMARY KEY (scope, tool_name, name)
);
`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, scope string) ([]Variable, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool_name, name, kind, value, updated_at FROM tool_variables WHERE scope = ? ORDER BY tool_name, name`, scope)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ret []Variable
	for rows.Next() {
		var v Variable
		var kind, at string
		if err := rows.Scan(&v.ToolName, &v.Name, &kind, &v.Value, &at); err != nil {
			return nil, err
		}
		v.Kind = Kind(kind)
		if at != "" {
			if v.UpdatedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
				return nil, errors.Wrapf(err, "invalid timestamp for variable %s/%s", v.ToolName, v.Name)
			}
		}
		ret = append(ret, v)
	}
	return ret, rows.Err()
}

// Save replaces the stored variables of scope with vars.
func (s *SQLiteStore) Save(ctx context.Context, scope string, vars []Variable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_variables WHERE scope = ?`, scope); err != nil {
		return err
	}
	for _, v := range vars {
		_, err := tx.ExecContext(ctx, `INSERT INTO tool_variables (scope, tool_name, name, kind, value, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			scope, v.ToolName, v.Name, string(v.Kind), v.Value, v.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
