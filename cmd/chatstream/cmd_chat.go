package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/chatstream/internal/backend"
	"github.com/user/chatstream/internal/chat"
	"github.com/user/chatstream/internal/ingest"
	"github.com/user/chatstream/internal/state"
	"github.com/user/chatstream/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [session-id]",
	Short: "Start an interactive chat, optionally resuming a session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sessions := state.NewSessionStore(cfg.DataDir)
	messages := state.NewMessageStore(cfg.DataDir)
	timeline := state.NewTimelineStore(cfg.DataDir)

	client := backend.New(cfg)
	policy := backend.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.MaxDuration = time.Duration(cfg.Retry.MaxDurationMs) * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Waiting for backend...")
	err := client.WaitReady(ctx, cfg.Probe.MaxAttempts, time.Duration(cfg.Probe.IntervalMs)*time.Millisecond)
	if err != nil {
		if errors.Is(err, backend.ErrBackendUnavailable) {
			fmt.Println("Backend unavailable. Check the service and run `chatstream chat` again.")
			return nil
		}
		return err
	}

	sink := newTerminalSink()
	ctrl := chat.New(client, policy, sessions, messages, timeline, sink)

	if len(args) == 1 {
		id := types.SessionID(args[0])
		idx, err := sessions.Get(ctx, id)
		if err != nil {
			return err
		}
		ctrl.Resume(&types.SessionHandle{
			UserID:    idx.UserID,
			SessionID: idx.SessionID,
			AppName:   idx.AppName,
		})
		history, err := messages.List(ctx, id)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		for _, msg := range history {
			printStoredMessage(msg)
		}
	}

	// Ctrl-C stops the current response; exit with /quit or Ctrl-D.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	go func() {
		for range sigChan {
			ctrl.Stop()
			fmt.Fprintln(os.Stderr)
		}
	}()

	fmt.Println("Connected. Type a question; Ctrl-C stops a streaming response; /quit exits.")
	stdin := bufio.NewScanner(os.Stdin)
	stdin.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			fmt.Println()
			break
		}
		query := strings.TrimSpace(stdin.Text())
		if query == "" {
			continue
		}
		if query == "/quit" || query == "/exit" {
			break
		}
		if err := ctrl.Submit(ctx, query); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		sink.finishTurn()
	}
	return stdin.Err()
}

func printStoredMessage(msg *types.Message) {
	switch msg.Role {
	case types.RoleHuman:
		fmt.Printf("> %s\n", msg.Content)
	case types.RoleAI:
		if msg.Content == "" {
			return
		}
		fmt.Printf("[%s]\n%s\n\n", ingest.DisplayLabel(msg.Agent, msg.FinalReport), msg.Content)
	}
}
