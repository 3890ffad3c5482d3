// Package history is the SQLite ledger of completed downloads and failed
// mirror attempts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Download is one completed download.
type Download struct {
	CompletedAt time.Time
	Release     string
	Package     string
	Mirror      string
	Path        string
	Bytes       int64
	Attempts    int
}

// Failure is one failed attempt against a mirror.
type Failure struct {
	At      time.Time
	Release string
	Mirror  string
	Error   string
}

// DB wraps the history database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the history database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	h := &DB{db: db, path: path}
	if err := h.init(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *DB) init() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS downloads (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			release_name TEXT NOT NULL,
			package      TEXT NOT NULL,
			mirror       TEXT NOT NULL,
			path         TEXT NOT NULL,
			bytes        INTEGER NOT NULL,
			attempts     INTEGER NOT NULL,
			completed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS downloads_release ON downloads (release_name);
		CREATE TABLE IF NOT EXISTS failures (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			release_name TEXT NOT NULL,
			mirror  TEXT NOT NULL,
			error   TEXT NOT NULL,
			at      INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// RecordDownload appends a completed download.
func (h *DB) RecordDownload(ctx context.Context, d Download) error {
	if d.CompletedAt.IsZero() {
		d.CompletedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		"INSERT INTO downloads (release_name, package, mirror, path, bytes, attempts, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		d.Release, d.Package, d.Mirror, d.Path, d.Bytes, d.Attempts, d.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record download %s: %w", d.Release, err)
	}
	return nil
}

// RecordFailure appends a failed attempt.
func (h *DB) RecordFailure(ctx context.Context, f Failure) error {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		"INSERT INTO failures (release_name, mirror, error, at) VALUES (?, ?, ?, ?)",
		f.Release, f.Mirror, f.Error, f.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", f.Release, err)
	}
	return nil
}

// Downloads returns up to limit downloads, newest first. limit <= 0 means
// no limit.
func (h *DB) Downloads(ctx context.Context, limit int) ([]Download, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx,
		"SELECT release_name, package, mirror, path, bytes, attempts, completed_at FROM downloads ORDER BY completed_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var (
			d  Download
			ns int64
		)
		if err := rows.Scan(&d.Release, &d.Package, &d.Mirror, &d.Path, &d.Bytes, &d.Attempts, &ns); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		d.CompletedAt = time.Unix(0, ns)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LastDownload returns the most recent download of release.
func (h *DB) LastDownload(ctx context.Context, release string) (Download, bool, error) {
	d := Download{Release: release}
	var ns int64
	err := h.db.QueryRowContext(ctx,
		"SELECT package, mirror, path, bytes, attempts, completed_at FROM downloads WHERE release_name = ? ORDER BY completed_at DESC, id DESC LIMIT 1",
		release,
	).Scan(&d.Package, &d.Mirror, &d.Path, &d.Bytes, &d.Attempts, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return Download{}, false, nil
	}
	if err != nil {
		return Download{}, false, fmt.Errorf("query download %s: %w", release, err)
	}
	d.CompletedAt = time.Unix(0, ns)
	return d, true, nil
}

// Failures returns the failed attempts for release in the order they
// happened.
func (h *DB) Failures(ctx context.Context, release string) ([]Failure, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT mirror, error, at FROM failures WHERE release_name = ? ORDER BY at, id",
		release,
	)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		f := Failure{Release: release}
		var ns int64
		if err := rows.Scan(&f.Mirror, &f.Error, &ns); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.At = time.Unix(0, ns)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (h *DB) Path() string { return h.path }

// Close closes the database.
func (h *DB) Close() error { return h.db.Close() }
