package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatfeed/internal/api"
	"github.com/matheus3301/chatfeed/internal/bus"
	"github.com/matheus3301/chatfeed/internal/config"
	"github.com/matheus3301/chatfeed/internal/link"
	"github.com/matheus3301/chatfeed/internal/logging"
	"github.com/matheus3301/chatfeed/internal/profile"
	"github.com/matheus3301/chatfeed/internal/status"
	"github.com/matheus3301/chatfeed/internal/wire"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	urlFlag := flag.String("url", "", "feed endpoint (overrides config)")
	noStart := flag.Bool("no-start", false, "do not start a daemon when none is running")
	debug := flag.Bool("debug", false, "log session internals to stderr")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.Client.URL = *urlFlag
	}

	socketPath := profile.SocketPath(profileName)
	if !*noStart && !probeDaemon(socketPath) {
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
		if err := startDaemon(profileName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	b := bus.New()
	changes, unsubChanges := b.Subscribe("session.", 64)
	defer unsubChanges()

	s := link.New(link.Options{
		URL:                  cfg.Client.URL,
		Name:                 "watch",
		HeartbeatInterval:    cfg.Client.HeartbeatInterval.Duration,
		ReconnectBase:        cfg.Client.ReconnectBase.Duration,
		ReconnectCap:         cfg.Client.ReconnectCap.Duration,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		PongTimeout:          cfg.Client.PongTimeout.Duration,
		EventBuffer:          cfg.Client.EventBuffer,
		Bus:                  b,
		Logger:               logging.NewConsole(*debug),
	})
	defer s.Close()

	fmt.Printf("watching %s (commands: drop, connect, kill, status, quit)\n", cfg.Client.URL)
	s.Connect()

	commands := make(chan string)
	go readCommands(commands)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case evt, ok := <-s.Events():
			if !ok {
				return
			}
			printMessage(evt)
		case evt := <-changes:
			printSessionEvent(evt)
		case cmd, ok := <-commands:
			if !ok || !runCommand(cmd, s) {
				return
			}
		case <-sigs:
			return
		}
	}
}

// runCommand handles one stdin line. It returns false when the viewer should exit.
func runCommand(cmd string, s *link.Session) bool {
	switch strings.TrimSpace(cmd) {
	case "":
	case "drop":
		s.Disconnect()
	case "connect":
		s.Connect()
	case "kill":
		if err := s.SimulateDisconnect(); err != nil {
			fmt.Printf("kill: %v\n", err)
		}
	case "status":
		line := fmt.Sprintf("state %s, attempts %d, dropped %d", s.State(), s.Attempts(), s.Dropped())
		if pong := s.LastPong(); !pong.IsZero() {
			line += ", last pong " + pong.Format("15:04:05")
		}
		fmt.Println(line)
	case "quit", "exit":
		return false
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
	return true
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func printMessage(evt wire.NewMessage) {
	fmt.Printf("%s  [chat %d] %-8s %s\n", time.UnixMilli(evt.TS).Format("15:04:05"), evt.ChatID, evt.Sender, evt.Body)
}

func printSessionEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case status.StatusChange:
		fmt.Printf("-- %s -> %s\n", p.From, p.To)
	case link.Exhausted:
		fmt.Printf("-- gave up after %d attempts; type connect to retry\n", p.Attempts)
	}
}

// probeDaemon checks if a daemon is running and responsive on the socket.
func probeDaemon(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.GetStatus(ctx)
	return err == nil
}

func startDaemon(profileName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemonBin := filepath.Join(filepath.Dir(executable), "chatfeedd")
	if _, err := os.Stat(daemonBin); err != nil {
		daemonBin = "chatfeedd"
	}

	cmd := exec.Command(daemonBin, "--profile", profileName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real RPC, not just a socket connect.
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
