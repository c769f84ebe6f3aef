package ingest

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const manifestSchema = `
CREATE TABLE IF NOT EXISTS files (
	path     TEXT PRIMARY KEY,
	size     INTEGER NOT NULL,
	mtime    INTEGER NOT NULL,
	task_uid INTEGER NOT NULL,
	seen_at  INTEGER NOT NULL
);
`

// Manifest records which files have been ingested, keyed by path with the
// size and mtime observed at ingest time. A file whose size or mtime
// changed is re-ingested; an unchanged file is skipped across runs.
type Manifest struct {
	db *sql.DB
}

// OpenManifest opens (creating if needed) the manifest database at path.
func OpenManifest(path string) (*Manifest, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	// The manifest is written from one goroutine at a time per file, but
	// scans run in parallel. A single connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(manifestSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init manifest schema: %w", err)
	}
	return &Manifest{db: db}, nil
}

func (m *Manifest) Close() error {
	return m.db.Close()
}

// NeedsIngest reports whether a file at path with the given size and mtime
// has not been recorded yet, or changed since it was.
func (m *Manifest) NeedsIngest(path string, size int64, mtime time.Time) (bool, error) {
	var recSize, recMtime int64
	err := m.db.QueryRow(
		`SELECT size, mtime FROM files WHERE path = ?`, path,
	).Scan(&recSize, &recMtime)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query manifest for %s: %w", path, err)
	}
	return recSize != size || recMtime != mtime.UnixNano(), nil
}

// Record stores or replaces the manifest entry for path.
func (m *Manifest) Record(path string, size int64, mtime time.Time, taskUID int64) error {
	_, err := m.db.Exec(
		`INSERT INTO files (path, size, mtime, task_uid, seen_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   size = excluded.size,
		   mtime = excluded.mtime,
		   task_uid = excluded.task_uid,
		   seen_at = excluded.seen_at`,
		path, size, mtime.UnixNano(), taskUID, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record manifest for %s: %w", path, err)
	}
	return nil
}

// Forget removes the entry for path, so a recreated file is re-ingested.
func (m *Manifest) Forget(path string) error {
	if _, err := m.db.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("forget manifest entry %s: %w", path, err)
	}
	return nil
}

// Count reports how many files the manifest tracks.
func (m *Manifest) Count() (int64, error) {
	var n int64
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count manifest entries: %w", err)
	}
	return n, nil
}
