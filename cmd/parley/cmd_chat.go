package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/session"
	"github.com/user/parley/internal/sources"
	"github.com/user/parley/internal/store"
	"github.com/user/parley/internal/title"
	"github.com/user/parley/internal/turn"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
	"github.com/user/parley/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume an existing session")
}

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

const defaultSystemPrompt = "You are a helpful assistant. Answer concisely."

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	engine, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create prompt engine: %w", err)
	}

	manager := session.NewManager(st)
	titler := title.New(provider, cfg.LLM.TitleModel)
	coord := turn.NewCoordinator(st, titler, manager)

	ctrl := turn.NewController(manager, coord, provider, engine, turn.Config{
		ModelID:      cfg.LLM.Model,
		SystemPrompt: defaultSystemPrompt,
		Options: llm.Options{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	})

	retryInterval, err := time.ParseDuration(cfg.Turn.RetryInterval)
	if err != nil {
		return fmt.Errorf("parse turn.retry_interval: %w", err)
	}
	flusher := turn.NewFlusher(coord, retryInterval)
	if err := flusher.Start(); err != nil {
		return fmt.Errorf("start retry flusher: %w", err)
	}
	defer flusher.Stop()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	resolver := sources.NewResolver()

	// Print streamed text as it arrives. printed tracks how much of the
	// draft has already been written so each snapshot emits only the tail.
	var printMu sync.Mutex
	printed := 0
	lastStatus := turn.StatusIdle
	var lastSources []llm.SourceRef
	turnDone := make(chan struct{}, 1)
	unsub := ctrl.Subscribe(func(snap turn.Snapshot) {
		printMu.Lock()
		defer printMu.Unlock()
		if len(snap.DraftText) > printed {
			fmt.Print(snap.DraftText[printed:])
			printed = len(snap.DraftText)
		}
		if len(snap.Sources) > 0 {
			lastSources = snap.Sources
		}
		if snap.Status != lastStatus {
			if (lastStatus == turn.StatusStreaming || lastStatus == turn.StatusSubmitted) &&
				(snap.Status == turn.StatusIdle || snap.Status == turn.StatusError) {
				fmt.Println()
				if snap.Status == turn.StatusError && snap.Err != "" {
					fmt.Printf("(turn failed: %s)\n", snap.Err)
				}
				printed = 0
				select {
				case turnDone <- struct{}{}:
				default:
				}
			}
			lastStatus = snap.Status
		}
	})
	defer unsub()

	printCitations := func() {
		printMu.Lock()
		refs := lastSources
		lastSources = nil
		printMu.Unlock()
		if len(refs) == 0 {
			return
		}
		fmt.Println("Sources:")
		for _, p := range resolver.Resolve(ctx, refs) {
			fmt.Printf("  %s\n", p.Source.URL)
			if p.Snippet != "" {
				line := p.Snippet
				if i := strings.IndexByte(line, '\n'); i >= 0 {
					line = line[:i]
				}
				fmt.Printf("    %s\n", line)
			}
		}
	}

	if chatSessionID != "" {
		if err := ctrl.SwitchSession(ctx, types.SessionID(chatSessionID)); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		replaySession(ctrl)
	}

	fmt.Println("parley chat. Type a message, or /new, /switch <id>, /sessions, /cancel, /quit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/new":
			ctrl.StartNew()
			fmt.Println("Started a new conversation.")
		case line == "/cancel":
			ctrl.Cancel()
		case line == "/sessions":
			if err := printSessions(ctx, st); err != nil {
				fmt.Fprintf(os.Stderr, "list sessions: %v\n", err)
			}
		case strings.HasPrefix(line, "/switch "):
			id := types.SessionID(strings.TrimSpace(strings.TrimPrefix(line, "/switch ")))
			if err := ctrl.SwitchSession(ctx, id); err != nil {
				fmt.Fprintf(os.Stderr, "switch session: %v\n", err)
				continue
			}
			replaySession(ctrl)
		default:
			if err := ctrl.Submit(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "submit: %v\n", err)
				continue
			}
			select {
			case <-turnDone:
				printCitations()
			case <-ctx.Done():
				return nil
			}
		}
	}
	return scanner.Err()
}

// replaySession prints the loaded history after a switch.
func replaySession(ctrl *turn.Controller) {
	snap := ctrl.Snapshot()
	for _, msg := range snap.Messages {
		prefix := "you"
		if msg.Role == types.RoleAssistant {
			prefix = "assistant"
		}
		fmt.Printf("[%s] %s\n", prefix, msg.Content)
	}
}
