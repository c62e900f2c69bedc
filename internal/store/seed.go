package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

var (
	seedSenders = []string{"Alice", "Bob", "Charlie", "Diana", "Eve", "Frank", "Grace", "Henry"}
	seedBodies  = []string{
		"Hey! How are you doing?",
		"Did you see the latest update?",
		"Let's catch up sometime",
		"That sounds great!",
		"I'll be there in 5 minutes",
		"Thanks for your help!",
		"Can you send me the file?",
		"Meeting at 3 PM today",
		"Great work on the project!",
		"What do you think about this?",
	}
)

// SeedOptions controls the sample data written by Seed.
type SeedOptions struct {
	Chats    int
	Messages int
	Now      time.Time
	Rand     *rand.Rand
}

// Seed fills an empty store with sample chats and messages in one transaction.
// It does nothing and returns false if the store already has chats.
func (db *DB) Seed(ctx context.Context, opts SeedOptions) (bool, error) {
	if opts.Chats <= 0 {
		return false, nil
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(opts.Now.UnixNano()), 0))
	}
	r := opts.Rand
	now := opts.Now.UnixMilli()
	const day = int64(24 * time.Hour / time.Millisecond)

	db.mu.Lock()
	defer db.mu.Unlock()

	var existing int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&existing); err != nil {
		return false, fmt.Errorf("count chats: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, 0, opts.Chats)
	for i := 1; i <= opts.Chats; i++ {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chats (title, last_message_at, unread_count) VALUES (?, ?, ?)`,
			fmt.Sprintf("Chat %d", i), now-r.Int64N(7*day), r.IntN(10))
		if err != nil {
			return false, fmt.Errorf("seed chat: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("seed chat: %w", err)
		}
		ids = append(ids, id)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (chat_id, ts, sender, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("prepare seed messages: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for n := 0; n < opts.Messages; {
		chatID := ids[r.IntN(len(ids))]
		burst := r.IntN(50) + 20
		for j := 0; j < burst && n < opts.Messages; j++ {
			if _, err := stmt.ExecContext(ctx, chatID, now-r.Int64N(30*day),
				seedSenders[r.IntN(len(seedSenders))], seedBodies[r.IntN(len(seedBodies))]); err != nil {
				return false, fmt.Errorf("seed message: %w", err)
			}
			n++
		}
	}

	// Keep last_message_at consistent with the newest seeded message.
	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET last_message_at = (
			SELECT MAX(ts) FROM messages WHERE messages.chat_id = chats.id)
		WHERE EXISTS (SELECT 1 FROM messages WHERE messages.chat_id = chats.id)`); err != nil {
		return false, fmt.Errorf("seed aggregates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit seed: %w", err)
	}
	db.mutations.Add(1)
	return true, nil
}
