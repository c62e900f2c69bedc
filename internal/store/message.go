package store

import (
	"context"
	"fmt"
)

// InsertMessage appends a message to a chat and updates the chat aggregates
// (last_message_at = ts, unread_count + 1) in the same transaction.
// Returns ErrNotFound when the chat does not exist.
func (db *DB) InsertMessage(ctx context.Context, chatID, ts int64, sender, body string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE chats SET last_message_at = ?, unread_count = unread_count + 1 WHERE id = ?`,
		ts, chatID)
	if err != nil {
		return 0, fmt.Errorf("update chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update chat: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, ts, sender, body) VALUES (?, ?, ?, ?)`,
		chatID, ts, sender, body)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit message: %w", err)
	}
	db.mutations.Add(1)
	return id, nil
}

// ListMessages returns a page of messages for a chat, newest first.
// Messages sharing a timestamp are ordered by ID so pages are stable.
func (db *DB) ListMessages(ctx context.Context, chatID int64, offset, limit int) ([]Message, error) {
	offset, limit = normalizePage(offset, limit)

	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.queryMessages(ctx, `
		SELECT id, chat_id, ts, sender, body
		FROM messages
		WHERE chat_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ? OFFSET ?`, chatID, limit, offset)
}

// SearchMessages returns up to limit messages in a chat whose body contains
// query, ignoring case. It is a snapshot, not a cursor.
//
// Case folding is SQLite's lower(), which only folds ASCII: "É" does not match "é".
func (db *DB) SearchMessages(ctx context.Context, chatID int64, query string, limit int) ([]Message, error) {
	_, limit = normalizePage(0, limit)
	if query == "" {
		return []Message{}, nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.queryMessages(ctx, `
		SELECT id, chat_id, ts, sender, body
		FROM messages
		WHERE chat_id = ? AND instr(lower(body), lower(?)) > 0
		ORDER BY ts DESC, id DESC
		LIMIT ?`, chatID, query, limit)
}

func (db *DB) queryMessages(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.TS, &m.Sender, &m.Body); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
