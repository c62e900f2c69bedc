package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/matheus3301/chatfeed/internal/api"
	"github.com/matheus3301/chatfeed/internal/profile"
	"github.com/matheus3301/chatfeed/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	offsetFlag := flag.Int("offset", 0, "page offset")
	limitFlag := flag.Int("limit", 20, "page size or search cap")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(profile.SocketPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status":
		resp, err := c.GetStatus(ctx)
		if err != nil {
			fail(err)
		}
		out.status(resp)
	case "chats":
		resp, err := c.ListChats(ctx, *offsetFlag, *limitFlag)
		if err != nil {
			fail(err)
		}
		out.chats(resp.Chats, resp.HasMore)
	case "chat":
		resp, err := c.GetChat(ctx, chatArg(args, "chat <id>"))
		if err != nil {
			fail(err)
		}
		out.chats([]store.Chat{resp.Chat}, false)
	case "messages":
		resp, err := c.ListMessages(ctx, chatArg(args, "messages <chat-id>"), *offsetFlag, *limitFlag)
		if err != nil {
			fail(err)
		}
		out.messages(resp.Messages, resp.HasMore)
	case "search":
		if len(args) < 3 {
			usage("search <chat-id> <text>")
		}
		resp, err := c.SearchMessages(ctx, chatArg(args, "search <chat-id> <text>"), args[2], *limitFlag)
		if err != nil {
			fail(err)
		}
		out.messages(resp.Messages, false)
	case "read":
		id := chatArg(args, "read <chat-id>")
		if err := c.MarkChatRead(ctx, id); err != nil {
			fail(err)
		}
		if !out.json {
			fmt.Printf("Chat %d marked read.\n", id)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatfeedctl [--profile <name>] [--json] [--offset n] [--limit n] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                  Show daemon status")
	fmt.Fprintln(os.Stderr, "  chats                   List chats, most recent first")
	fmt.Fprintln(os.Stderr, "  chat <id>               Show one chat")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>      List messages, newest first")
	fmt.Fprintln(os.Stderr, "  search <chat-id> <text> Search a chat's messages")
	fmt.Fprintln(os.Stderr, "  read <chat-id>          Mark a chat read")
}

func chatArg(args []string, form string) int64 {
	if len(args) < 2 {
		usage(form)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fail(fmt.Errorf("invalid chat id %q", args[1]))
	}
	return id
}

func usage(form string) {
	fmt.Fprintf(os.Stderr, "usage: chatfeedctl %s\n", form)
	os.Exit(1)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

type output struct {
	json bool
}

func (o output) status(resp *api.GetStatusResponse) {
	if o.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:     %s\n", resp.Profile)
	fmt.Printf("Uptime:      %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Subscribers: %d\n", resp.Subscribers)
	fmt.Printf("Generated:   %d\n", resp.Generated)
	if resp.LastGeneratedAt > 0 {
		fmt.Printf("Last:        %s\n", formatTS(resp.LastGeneratedAt))
	}
	fmt.Printf("Chats:       %d\n", resp.ChatCount)
	fmt.Printf("Messages:    %d\n", resp.MessageCount)
}

func (o output) chats(chats []store.Chat, hasMore bool) {
	if o.json {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats found.")
		return
	}
	for _, c := range chats {
		fmt.Printf("%-6d %-24s %s  unread %d\n", c.ID, c.Title, formatTS(c.LastMessageAt), c.UnreadCount)
	}
	if hasMore {
		fmt.Println("(more: raise --offset)")
	}
}

func (o output) messages(msgs []store.Message, hasMore bool) {
	if o.json {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages found.")
		return
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-8s %s\n", formatTS(m.TS), m.Sender, m.Body)
	}
	if hasMore {
		fmt.Println("(more: raise --offset)")
	}
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
