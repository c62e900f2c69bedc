package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the query service of a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) ListChats(ctx context.Context, offset, limit int) (*ListChatsResponse, error) {
	out := new(ListChatsResponse)
	err := c.conn.Invoke(ctx, methodListChats, &ListChatsRequest{Offset: offset, Limit: limit}, out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, chatID int64, offset, limit int) (*ListMessagesResponse, error) {
	out := new(ListMessagesResponse)
	err := c.conn.Invoke(ctx, methodListMessages, &ListMessagesRequest{ChatID: chatID, Offset: offset, Limit: limit}, out)
	return out, err
}

func (c *Client) SearchMessages(ctx context.Context, chatID int64, query string, limit int) (*SearchMessagesResponse, error) {
	out := new(SearchMessagesResponse)
	err := c.conn.Invoke(ctx, methodSearchMessages, &SearchMessagesRequest{ChatID: chatID, Query: query, Limit: limit}, out)
	return out, err
}

func (c *Client) MarkChatRead(ctx context.Context, chatID int64) error {
	return c.conn.Invoke(ctx, methodMarkChatRead, &MarkChatReadRequest{ChatID: chatID}, new(MarkChatReadResponse))
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (*GetChatResponse, error) {
	out := new(GetChatResponse)
	err := c.conn.Invoke(ctx, methodGetChat, &GetChatRequest{ChatID: chatID}, out)
	return out, err
}

func (c *Client) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	err := c.conn.Invoke(ctx, methodGetStatus, &GetStatusRequest{}, out)
	return out, err
}
