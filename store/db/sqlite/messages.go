package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
)

// CacheMessages upserts messages keyed by (channel_id, ts). Re-inserting
// the same message replaces its payload, which keeps edits fresh.
func (d *DB) CacheMessages(ctx context.Context, channelID string, msgs []slack.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin message write")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (channel_id, ts, ts_num, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id, ts) DO UPDATE SET payload = excluded.payload`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare message upsert")
	}
	defer stmt.Close()

	for i := range msgs {
		msg := msgs[i]
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
		payload, err := marshalPayload(&msg)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, channelID, msg.TS, slack.ParseTS(msg.TS), payload); err != nil {
			return errors.Wrapf(err, "failed to upsert message %s/%s", channelID, msg.TS)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit message write")
}

// CachedMessages returns the channel's cached messages with ts in
// [oldest, latest], sorted ascending.
func (d *DB) CachedMessages(ctx context.Context, channelID string, oldest, latest float64) ([]slack.Message, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT payload FROM messages
		WHERE channel_id = ? AND ts_num >= ? AND ts_num <= ?
		ORDER BY ts_num ASC`, channelID, oldest, latest)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query cached messages for %s", channelID)
	}
	defer rows.Close()

	msgs := []slack.Message{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan message row")
		}
		msg, err := unmarshalMessage(payload)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, errors.Wrap(rows.Err(), "failed to iterate message rows")
}

// CacheMentions upserts mention hits for the user.
func (d *DB) CacheMentions(ctx context.Context, userID string, msgs []slack.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin mention write")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO mentions (user_id, channel_id, ts, ts_num, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id, ts) DO UPDATE SET payload = excluded.payload`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare mention upsert")
	}
	defer stmt.Close()

	for i := range msgs {
		payload, err := marshalPayload(&msgs[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, userID, msgs[i].ChannelID, msgs[i].TS, slack.ParseTS(msgs[i].TS), payload); err != nil {
			return errors.Wrapf(err, "failed to upsert mention %s/%s", msgs[i].ChannelID, msgs[i].TS)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit mention write")
}

// CachedMentions returns cached mentions for the user within the range.
func (d *DB) CachedMentions(ctx context.Context, userID string, oldest, latest float64) ([]slack.Message, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT payload FROM mentions
		WHERE user_id = ? AND ts_num >= ? AND ts_num <= ?
		ORDER BY ts_num ASC`, userID, oldest, latest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cached mentions")
	}
	defer rows.Close()

	msgs := []slack.Message{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan mention row")
		}
		msg, err := unmarshalMessage(payload)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, errors.Wrap(rows.Err(), "failed to iterate mention rows")
}

// CacheReactions upserts reacted items for the user.
func (d *DB) CacheReactions(ctx context.Context, userID string, items []slack.ReactedItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin reaction write")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO reactions (user_id, channel_id, ts, ts_num, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id, ts) DO UPDATE SET payload = excluded.payload`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare reaction upsert")
	}
	defer stmt.Close()

	for _, item := range items {
		if item.Message == nil {
			continue
		}
		payload, err := marshalPayload(item.Message)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, userID, item.ChannelID, item.Message.TS, slack.ParseTS(item.Message.TS), payload); err != nil {
			return errors.Wrapf(err, "failed to upsert reaction %s/%s", item.ChannelID, item.Message.TS)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit reaction write")
}

// CachedReactions returns cached reacted items for the user within range.
func (d *DB) CachedReactions(ctx context.Context, userID string, oldest, latest float64) ([]slack.ReactedItem, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT channel_id, payload FROM reactions
		WHERE user_id = ? AND ts_num >= ? AND ts_num <= ?
		ORDER BY ts_num ASC`, userID, oldest, latest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cached reactions")
	}
	defer rows.Close()

	items := []slack.ReactedItem{}
	for rows.Next() {
		var channelID, payload string
		if err := rows.Scan(&channelID, &payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan reaction row")
		}
		msg, err := unmarshalMessage(payload)
		if err != nil {
			return nil, err
		}
		items = append(items, slack.ReactedItem{ChannelID: channelID, Message: &msg})
	}
	return items, errors.Wrap(rows.Err(), "failed to iterate reaction rows")
}

// CacheChannels upserts the channel listing.
func (d *DB) CacheChannels(ctx context.Context, channels []slack.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin channel write")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO channels (id, payload) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare channel upsert")
	}
	defer stmt.Close()

	for i := range channels {
		payload, err := marshalPayload(&channels[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, channels[i].ID, payload); err != nil {
			return errors.Wrapf(err, "failed to upsert channel %s", channels[i].ID)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit channel write")
}

// CachedChannels returns all cached channels.
func (d *DB) CachedChannels(ctx context.Context) ([]slack.Channel, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT payload FROM channels ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cached channels")
	}
	defer rows.Close()

	channels := []slack.Channel{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan channel row")
		}
		var ch slack.Channel
		if err := unmarshalInto(payload, &ch); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, errors.Wrap(rows.Err(), "failed to iterate channel rows")
}

// IsDayFetched reports whether the (user, scope, day, kind) watermark
// exists.
func (d *DB) IsDayFetched(ctx context.Context, userID, scope, day, kind string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM fetch_watermarks WHERE user_id = ? AND scope = ? AND day = ? AND kind = ?)`,
		userID, scope, day, kind).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check fetch watermark")
	}
	return exists, nil
}

// MarkDayFetched records the watermark. Idempotent.
func (d *DB) MarkDayFetched(ctx context.Context, userID, scope, day, kind string) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO fetch_watermarks (user_id, scope, day, kind, created_at)
		VALUES (?, ?, ?, ?, unixepoch())
		ON CONFLICT (user_id, scope, day, kind) DO NOTHING`,
		userID, scope, day, kind)
	return errors.Wrap(err, "failed to mark day fetched")
}

var _ store.Store = (*DB)(nil)
