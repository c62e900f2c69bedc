package api

import "github.com/matheus3301/chatfeed/internal/store"

type ListChatsRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// ListChatsResponse is one page of chats. HasMore is true when the page is full.
type ListChatsResponse struct {
	Chats   []store.Chat `json:"chats"`
	HasMore bool         `json:"hasMore"`
}

type ListMessagesRequest struct {
	ChatID int64 `json:"chatId"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

type ListMessagesResponse struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

// SearchMessagesRequest takes a cap, not an offset: a search is a snapshot.
type SearchMessagesRequest struct {
	ChatID int64  `json:"chatId"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

type SearchMessagesResponse struct {
	Messages []store.Message `json:"messages"`
}

type MarkChatReadRequest struct {
	ChatID int64 `json:"chatId"`
}

type MarkChatReadResponse struct{}

type GetChatRequest struct {
	ChatID int64 `json:"chatId"`
}

type GetChatResponse struct {
	Chat store.Chat `json:"chat"`
}

type GetStatusRequest struct{}

// GetStatusResponse summarizes a running daemon.
type GetStatusResponse struct {
	Profile         string `json:"profile"`
	UptimeMs        int64  `json:"uptimeMs"`
	Subscribers     int    `json:"subscribers"`
	Generated       int64  `json:"generated"`
	LastGeneratedAt int64  `json:"lastGeneratedAt"`
	ChatCount       int    `json:"chatCount"`
	MessageCount    int    `json:"messageCount"`
	Mutations       int64  `json:"mutations"`
}
