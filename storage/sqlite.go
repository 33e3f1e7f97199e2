package storage

import (
	"bytes"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register the sqlite3 driver.
	"github.com/nrwiersma/workchain/work"
	"github.com/pkg/errors"
)

// SQLite stores the table in a sqlite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the sqlite database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "storage: failed to open database")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: failed to ping database")
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: failed to initialize schema")
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tables (
		name TEXT PRIMARY KEY,
		idx INTEGER NOT NULL,
		data BLOB NOT NULL,
		saved_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Load loads the table. It returns nil if nothing was saved.
func (s *SQLite) Load() (*work.Table, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM tables WHERE name = ?`, "work").Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: error reading table")
	}

	return work.DecodeTable(bytes.NewReader(data))
}

// Save saves the table.
func (s *SQLite) Save(t *work.Table) error {
	var buf bytes.Buffer
	if err := work.EncodeTable(&buf, t); err != nil {
		return err
	}

	query := `
		INSERT INTO tables (name, idx, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET idx = excluded.idx, data = excluded.data, saved_at = excluded.saved_at
	`
	if _, err := s.db.Exec(query, "work", int64(t.Index), buf.Bytes(), time.Now().Unix()); err != nil {
		return errors.Wrap(err, "storage: error writing table")
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
