package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const snapshotSchemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	path     TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	parent   TEXT NOT NULL DEFAULT '',
	kind     TEXT NOT NULL,
	size     INTEGER NOT NULL DEFAULT 0,
	created  INTEGER NOT NULL DEFAULT 0,
	modified INTEGER NOT NULL DEFAULT 0
);
`

// Snapshot persists the index to a local SQLite file for faster cold start.
// It is a cache of a cache: the loaded content is always staleness-checked
// against the live filesystem and never treated as authoritative.
type Snapshot struct {
	conn *sql.DB
}

// OpenSnapshot opens (or creates) the snapshot database and applies the schema.
func OpenSnapshot(dsn string) (*Snapshot, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("snapshot: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("snapshot: ping: %w", err)
	}
	if _, err := conn.Exec(snapshotSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("snapshot: apply schema: %w", err)
	}
	return &Snapshot{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Snapshot) Close() error {
	return s.conn.Close()
}

// Save replaces the persisted node set with the index's current content
// within a single transaction.
func (s *Snapshot) Save(idx TreeIndex) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM nodes`); err != nil {
		return fmt.Errorf("snapshot: clear: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO nodes (path, name, parent, kind, size, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("snapshot: prepare insert: %w", err)
	}
	defer stmt.Close()

	var insertErr error
	idx.Walk(func(n Node) bool {
		_, insertErr = stmt.Exec(n.Path, n.Name, n.ParentPath, string(n.Kind), n.Size, n.CreatedAt, n.ModifiedAt)
		return insertErr == nil
	})
	if insertErr != nil {
		return fmt.Errorf("snapshot: insert: %w", insertErr)
	}
	return tx.Commit()
}

// Load returns every persisted node. An empty slice means no snapshot has
// been saved yet.
func (s *Snapshot) Load() ([]Node, error) {
	rows, err := s.conn.Query(`SELECT path, name, parent, kind, size, created, modified FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		var kind string
		if err := rows.Scan(&n.Path, &n.Name, &n.ParentPath, &kind, &n.Size, &n.CreatedAt, &n.ModifiedAt); err != nil {
			return nil, fmt.Errorf("snapshot: scan row: %w", err)
		}
		n.Kind = Kind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}
