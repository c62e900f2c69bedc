package store

// Chat is a conversation thread with its derived aggregates.
type Chat struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	LastMessageAt int64  `json:"lastMessageAt"`
	UnreadCount   int    `json:"unreadCount"`
}

// Message is an immutable, chat-scoped record. Timestamps are unix milliseconds.
type Message struct {
	ID     int64  `json:"id"`
	ChatID int64  `json:"chatId"`
	TS     int64  `json:"ts"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
}
