package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createChat(t *testing.T, db *DB, title string) int64 {
	t.Helper()
	id, err := db.CreateChat(context.Background(), title, 0)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestInsertMessageUpdatesAggregates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	chatID := createChat(t, db, "Chat 1")

	const n = 7
	var lastTS int64
	for i := 0; i < n; i++ {
		lastTS = int64(1000 + i*10)
		if _, err := db.InsertMessage(ctx, chatID, lastTS, "Alice", "hi"); err != nil {
			t.Fatal(err)
		}
	}

	c, err := db.GetChat(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != n {
		t.Errorf("unread = %d, want %d", c.UnreadCount, n)
	}
	if c.LastMessageAt != lastTS {
		t.Errorf("lastMessageAt = %d, want %d", c.LastMessageAt, lastTS)
	}
}

func TestInsertMessageIDsAreMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	chatID := createChat(t, db, "Chat 1")

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := db.InsertMessage(ctx, chatID, 1000, "Bob", "same ts")
		if err != nil {
			t.Fatal(err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestInsertMessageUnknownChat(t *testing.T) {
	db := testDB(t)
	before := db.Mutations()

	_, err := db.InsertMessage(context.Background(), 999, 1000, "Eve", "orphan")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if db.Mutations() != before {
		t.Error("failed insert must not count as a mutation")
	}
	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("message count = %d, want 0 (no partial write)", n)
	}
}

func TestMarkChatRead(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	chatID := createChat(t, db, "C1")

	for i := 0; i < 3; i++ {
		if _, err := db.InsertMessage(ctx, chatID, int64(1000+i), "Alice", "x"); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.MarkChatRead(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	chats, err := db.ListChats(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].UnreadCount != 0 {
		t.Fatalf("chats = %+v, want C1 with unread 0", chats)
	}

	// Marking an already-read chat keeps it at zero.
	if err := db.MarkChatRead(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat(ctx, chatID)
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
}

func TestMarkChatReadUnknownChat(t *testing.T) {
	db := testDB(t)
	err := db.MarkChatRead(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetChat(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := createChat(t, db, "A")

	c, err := db.GetChat(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Title != "A" {
		t.Errorf("got %v, want A", c)
	}

	// Non-existent.
	c, err = db.GetChat(ctx, id+100)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing chat")
	}
}

func TestListChatsOrderAndPagination(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := createChat(t, db, "A")
	b := createChat(t, db, "B")
	c := createChat(t, db, "C")
	for _, step := range []struct {
		chat int64
		ts   int64
	}{{a, 100}, {b, 300}, {c, 200}} {
		if _, err := db.InsertMessage(ctx, step.chat, step.ts, "Alice", "x"); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListChats(ctx, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != b || page[1].ID != c {
		t.Fatalf("first page = %+v, want [B C]", page)
	}

	page, err = db.ListChats(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != a {
		t.Fatalf("second page = %+v, want [A]", page)
	}
}

func TestListMessagesOrderingIsStable(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	chatID := createChat(t, db, "C")

	// Several messages share a timestamp; id must break the tie.
	for _, ts := range []int64{500, 700, 700, 600, 700, 500} {
		if _, err := db.InsertMessage(ctx, chatID, ts, "Bob", "msg"); err != nil {
			t.Fatal(err)
		}
	}

	first, err := db.ListMessages(ctx, chatID, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 6 {
		t.Fatalf("got %d messages, want 6", len(first))
	}
	assertSorted(t, first)

	second, err := db.ListMessages(ctx, chatID, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order differs at %d: %d vs %d", i, first[i].ID, second[i].ID)
		}
	}

	// Pages stitch together into the full listing.
	p1, _ := db.ListMessages(ctx, chatID, 0, 4)
	p2, _ := db.ListMessages(ctx, chatID, 4, 4)
	stitched := append(p1, p2...)
	for i := range first {
		if stitched[i].ID != first[i].ID {
			t.Fatalf("paged order differs at %d", i)
		}
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	chatID := createChat(t, db, "C")
	other := createChat(t, db, "Other")

	bodies := []struct {
		chat int64
		ts   int64
		body string
	}{
		{chatID, 1000, "Hello world"},
		{chatID, 2000, "goodbye world"},
		{chatID, 3000, "say HELLO again"},
		{other, 4000, "hello from elsewhere"},
	}
	for _, b := range bodies {
		if _, err := db.InsertMessage(ctx, b.chat, b.ts, "Alice", b.body); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages(ctx, chatID, "hello", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Body != "say HELLO again" || results[1].Body != "Hello world" {
		t.Errorf("results = %+v, want newest first", results)
	}
	assertSorted(t, results)

	capped, err := db.SearchMessages(ctx, chatID, "world", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 1 || capped[0].Body != "goodbye world" {
		t.Errorf("capped = %+v, want [goodbye world]", capped)
	}

	// LIKE wildcards are matched literally.
	none, err := db.SearchMessages(ctx, chatID, "%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("wildcard query matched %d messages, want 0", len(none))
	}
}

// TestConcurrentInsertAndMarkRead verifies counters never go negative or skip
// when inserts race with read-marking.
func TestConcurrentInsertAndMarkRead(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	chatID := createChat(t, db, "C")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := db.InsertMessage(ctx, chatID, int64(w*100+i), "Alice", "x"); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			if err := db.MarkChatRead(ctx, chatID); err != nil {
				t.Error(err)
			}
		}
	}()
	wg.Wait()

	if err := db.MarkChatRead(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := db.InsertMessage(ctx, chatID, 5000, "Bob", "y"); err != nil {
			t.Fatal(err)
		}
	}
	c, _ := db.GetChat(ctx, chatID)
	if c.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", c.UnreadCount)
	}
	n, _ := db.MessageCount()
	if n != 43 {
		t.Errorf("message count = %d, want 43", n)
	}
}

func TestSeed(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	opts := SeedOptions{
		Chats:    5,
		Messages: 100,
		Now:      time.UnixMilli(10_000_000_000),
		Rand:     rand.New(rand.NewPCG(1, 2)),
	}

	seeded, err := db.Seed(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !seeded {
		t.Fatal("Seed() on empty store should seed")
	}
	if n, _ := db.ChatCount(); n != 5 {
		t.Errorf("chat count = %d, want 5", n)
	}
	if n, _ := db.MessageCount(); n != 100 {
		t.Errorf("message count = %d, want 100", n)
	}

	chats, err := db.ListChats(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range chats {
		msgs, err := db.ListMessages(ctx, c.ID, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == 1 && msgs[0].TS != c.LastMessageAt {
			t.Errorf("chat %d lastMessageAt = %d, newest message ts = %d", c.ID, c.LastMessageAt, msgs[0].TS)
		}
	}

	// Second run is a no-op.
	seeded, err = db.Seed(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if seeded {
		t.Error("Seed() on populated store should not seed again")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	chatID, err := db.CreateChat(ctx, "Durable", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(ctx, chatID, 1234, "Alice", "kept"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	msgs, err := db.ListMessages(ctx, chatID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "kept" {
		t.Errorf("after reopen got %+v, want [kept]", msgs)
	}
}

func assertSorted(t *testing.T, msgs []Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		prev, cur := msgs[i-1], msgs[i]
		if cur.TS > prev.TS || (cur.TS == prev.TS && cur.ID > prev.ID) {
			t.Fatalf("messages not sorted by (ts, id) desc at %d: %+v before %+v", i, prev, cur)
		}
	}
}

func TestWriteFailuresPropagate(t *testing.T) {
	db := testDB(t)
	chatID := createChat(t, db, "Team")
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name string
		op   func() error
	}{
		{"CreateChat", func() error {
			_, err := db.CreateChat(ctx, "Late", 0)
			return err
		}},
		{"InsertMessage", func() error {
			_, err := db.InsertMessage(ctx, chatID, 1000, "Alice", "lost")
			return err
		}},
		{"MarkChatRead", func() error {
			return db.MarkChatRead(ctx, chatID)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := db.Mutations()
			err := tt.op()
			if err == nil {
				t.Fatal("expected error on a closed store")
			}
			if errors.Is(err, ErrNotFound) {
				t.Errorf("error = %v, must not be ErrNotFound", err)
			}
			if db.Mutations() != before {
				t.Errorf("Mutations() = %d, want %d", db.Mutations(), before)
			}
		})
	}
}

func TestSearchFoldsASCIIOnly(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	chatID := createChat(t, db, "Café")
	if _, err := db.InsertMessage(ctx, chatID, 1000, "Diana", "Meet at the café"); err != nil {
		t.Fatal(err)
	}

	if got, err := db.SearchMessages(ctx, chatID, "MEET", 10); err != nil || len(got) != 1 {
		t.Errorf("search MEET = %d results, %v; want 1", len(got), err)
	}
	if got, err := db.SearchMessages(ctx, chatID, "CAFÉ", 10); err != nil || len(got) != 0 {
		t.Errorf("search CAFÉ = %d results, %v; want 0", len(got), err)
	}
}
