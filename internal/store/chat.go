package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateChat inserts a new chat with no unread messages and returns its ID.
func (db *DB) CreateChat(ctx context.Context, title string, createdAt int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO chats (title, last_message_at, unread_count) VALUES (?, ?, 0)`,
		title, createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert chat: %w", err)
	}
	db.mutations.Add(1)
	return res.LastInsertId()
}

// ListChats returns chats sorted by last message timestamp descending.
// The caller infers more pages when len(result) == limit.
func (db *DB) ListChats(ctx context.Context, offset, limit int) ([]Chat, error) {
	offset, limit = normalizePage(offset, limit)

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, last_message_at, unread_count
		FROM chats
		ORDER BY last_message_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chats := []Chat{}
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by ID, or nil if it does not exist.
func (db *DB) GetChat(ctx context.Context, id int64) (*Chat, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var c Chat
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, title, last_message_at, unread_count
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.LastMessageAt, &c.UnreadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatIDs returns the IDs of all chats in ascending order.
func (db *DB) ChatIDs(ctx context.Context) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM chats ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkChatRead resets the unread counter of a chat to zero.
// Returns ErrNotFound when the chat does not exist.
func (db *DB) MarkChatRead(ctx context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `UPDATE chats SET unread_count = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark chat read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark chat read: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	db.mutations.Add(1)
	return nil
}
