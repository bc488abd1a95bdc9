// Package dedupe flags immediate repeats of the same (serial_id, mote_id,
// sequence) tuple seen within the process's own lifetime. It is
// informational only: every caller still publishes, whether or not Seen
// reports a repeat. Detection lives in an in-memory SQLite table, never a
// file, so nothing persists across a restart.
package dedupe

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is a TTL-bounded record of recently observed frames, backed by an
// in-memory SQLite connection. Safe for concurrent use: database/sql
// pools and serializes access to the single underlying connection itself.
type Cache struct {
	conn *sql.DB
	ttl  time.Duration
}

// Open creates a fresh in-memory dedupe cache. ttl <= 0 disables eviction
// bookkeeping but Seen still works (rows simply accumulate for the life
// of the process).
func Open(ttl time.Duration) (*Cache, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("dedupe: open in-memory database: %w", err)
	}
	conn.SetMaxOpenConns(1) // :memory: is private per-connection; pin the pool to one so every query sees the same database

	c := &Cache{conn: conn, ttl: ttl}
	if err := c.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying connection, discarding all recorded rows.
func (c *Cache) Close() error {
	return c.conn.Close()
}

func (c *Cache) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS seen_frames (
		serial_id  INTEGER NOT NULL,
		mote_id    TEXT NOT NULL,
		sequence   INTEGER NOT NULL,
		seen_at    INTEGER NOT NULL,
		PRIMARY KEY (serial_id, mote_id, sequence)
	);`
	_, err := c.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("dedupe: migrate: %w", err)
	}
	return nil
}

// Seen records (serialID, moteID, sequence) and reports whether that
// exact tuple was already recorded within ttl of now. The record is
// always (re-)written with the latest timestamp regardless of the
// outcome, so a repeat extends its own window rather than expiring
// mid-burst.
func (c *Cache) Seen(serialID uint64, moteID string, sequence uint8, now time.Time) (bool, error) {
	nowUnix := now.UnixNano()

	var lastSeen int64
	err := c.conn.QueryRow(
		`SELECT seen_at FROM seen_frames WHERE serial_id = ? AND mote_id = ? AND sequence = ?`,
		serialID, moteID, sequence,
	).Scan(&lastSeen)

	repeat := false
	switch {
	case err == sql.ErrNoRows:
		// first time for this tuple
	case err != nil:
		return false, fmt.Errorf("dedupe: lookup: %w", err)
	default:
		if c.ttl <= 0 || now.Sub(time.Unix(0, lastSeen)) <= c.ttl {
			repeat = true
		}
	}

	_, err = c.conn.Exec(
		`INSERT INTO seen_frames (serial_id, mote_id, sequence, seen_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(serial_id, mote_id, sequence) DO UPDATE SET seen_at = excluded.seen_at`,
		serialID, moteID, sequence, nowUnix,
	)
	if err != nil {
		return false, fmt.Errorf("dedupe: record: %w", err)
	}

	return repeat, nil
}

// Evict removes rows older than ttl as of now. The ingest server need not
// call this on the hot path, since Seen's own staleness check already
// ignores expired rows, but a long-running process benefits from
// periodically shrinking the table.
func (c *Cache) Evict(now time.Time) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-c.ttl).UnixNano()
	res, err := c.conn.Exec(`DELETE FROM seen_frames WHERE seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dedupe: evict: %w", err)
	}
	return res.RowsAffected()
}
