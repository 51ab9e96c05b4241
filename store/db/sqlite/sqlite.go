// Package sqlite implements the cache store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
)

// DB is the SQLite-backed cache store.
type DB struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		channel_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		ts_num REAL NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (channel_id, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_range ON messages (channel_id, ts_num)`,
	`CREATE TABLE IF NOT EXISTS mentions (
		user_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		ts_num REAL NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (user_id, channel_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		user_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		ts_num REAL NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (user_id, channel_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_watermarks (
		user_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		day TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, scope, day, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		conversation_id TEXT NOT NULL,
		text_hash TEXT NOT NULL,
		model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, text_hash)
	)`,
}

// NewDB opens (and migrates) the cache database at path. The ":memory:"
// sentinel yields a private in-memory database.
//
// Notes on the DSN: with the modernc.org/sqlite driver each pragma must
// be prefixed with `_pragma=`. WAL journal mode prevents locking issues
// and a single pooled connection is optimal for a local cache file.
func NewDB(path string) (store.Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db at %s", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	d := &DB{db: db}
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Embeddings returns the embedding cache backed by this database.
func (d *DB) Embeddings() store.EmbeddingCache {
	return &embeddingCache{db: d.db}
}

// Stats reports per-table row counts and the message ts range.
func (d *DB) Stats(ctx context.Context) (*store.CacheStats, error) {
	stats := &store.CacheStats{}
	for _, table := range []string{"messages", "mentions", "reactions", "channels", "fetch_watermarks", "embeddings"} {
		var count int64
		if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, errors.Wrapf(err, "failed to count %s", table)
		}
		stats.Tables = append(stats.Tables, store.TableCount{Table: table, Rows: count})
	}

	var oldest, newest sql.NullString
	err := d.db.QueryRowContext(ctx, "SELECT MIN(ts), MAX(ts) FROM messages").Scan(&oldest, &newest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message ts range")
	}
	stats.OldestTS = oldest.String
	stats.NewestTS = newest.String
	return stats, nil
}

func marshalPayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal payload")
	}
	return string(raw), nil
}

func unmarshalMessage(payload string) (slack.Message, error) {
	var m slack.Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return slack.Message{}, errors.Wrap(err, "failed to unmarshal message payload")
	}
	return m, nil
}

func unmarshalInto(payload string, v any) error {
	return errors.Wrap(json.Unmarshal([]byte(payload), v), "failed to unmarshal payload")
}
