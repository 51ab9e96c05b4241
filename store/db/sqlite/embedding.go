package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/worklog-sh/worklog/store"
)

type embeddingCache struct {
	db *sql.DB
}

// float32ArrayToBLOB packs a vector as little-endian float32 bytes.
func float32ArrayToBLOB(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

// blobToFloat32Array is the inverse of float32ArrayToBLOB. The vector
// length is derived from the blob size.
func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid embedding BLOB length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4 : i*4+4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// Get returns the cached embedding for (conversation, text hash), or nil
// on miss. A stale text hash is a miss: any text change invalidates.
func (c *embeddingCache) Get(ctx context.Context, conversationID, textHash string) (*store.CachedEmbedding, error) {
	row := c.db.QueryRowContext(ctx, `SELECT model, dimensions, embedding, created_at
		FROM embeddings WHERE conversation_id = ? AND text_hash = ?`, conversationID, textHash)

	entry := &store.CachedEmbedding{ConversationID: conversationID, TextHash: textHash}
	var blob []byte
	err := row.Scan(&entry.Model, &entry.Dimensions, &blob, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cached embedding")
	}
	entry.Embedding, err = blobToFloat32Array(blob)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetBatch resolves many keys; misses are absent from the result map,
// which is keyed by conversation id.
func (c *embeddingCache) GetBatch(ctx context.Context, keys []store.EmbeddingKey) (map[string]*store.CachedEmbedding, error) {
	result := make(map[string]*store.CachedEmbedding, len(keys))
	for _, key := range keys {
		entry, err := c.Get(ctx, key.ConversationID, key.TextHash)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			result[key.ConversationID] = entry
		}
	}
	return result, nil
}

// Set upserts one entry.
func (c *embeddingCache) Set(ctx context.Context, entry *store.CachedEmbedding) error {
	return c.set(ctx, c.db, entry)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *embeddingCache) set(ctx context.Context, ex execer, entry *store.CachedEmbedding) error {
	createdAt := entry.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO embeddings
		(conversation_id, text_hash, model, dimensions, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, text_hash) DO UPDATE SET
			model = excluded.model,
			dimensions = excluded.dimensions,
			embedding = excluded.embedding`,
		entry.ConversationID, entry.TextHash, entry.Model,
		len(entry.Embedding), float32ArrayToBLOB(entry.Embedding), createdAt)
	return errors.Wrap(err, "failed to upsert embedding")
}

// SetBatch writes all entries inside one transaction.
func (c *embeddingCache) SetBatch(ctx context.Context, entries []*store.CachedEmbedding) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin embedding write")
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := c.set(ctx, tx, entry); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit embedding write")
}

// Clear removes one conversation's entries, or everything when
// conversationID is empty.
func (c *embeddingCache) Clear(ctx context.Context, conversationID string) error {
	var err error
	if conversationID == "" {
		_, err = c.db.ExecContext(ctx, `DELETE FROM embeddings`)
	} else {
		_, err = c.db.ExecContext(ctx, `DELETE FROM embeddings WHERE conversation_id = ?`, conversationID)
	}
	return errors.Wrap(err, "failed to clear embeddings")
}

var _ store.EmbeddingCache = (*embeddingCache)(nil)
