package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/plansync/internal/config"
	"github.com/vovakirdan/plansync/internal/conn"
	"github.com/vovakirdan/plansync/internal/engine"
	"github.com/vovakirdan/plansync/internal/history"
)

const chatHelp = `commands:
  /join <room>    switch the active room
  /leave          leave the active room
  /older          load older messages
  /refresh        reload the newest page
  /reconnect      connect again after the retries ran out
  /delete <id>    delete one of your messages
  /typing         signal that you are typing
  /quit           exit
anything else is sent as a message`

type chatOptions struct {
	room   string
	user   string
	token  string
	server string
	api    string
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{Client: config.ClientConfig{ServerURL: opts.server, APIURL: opts.api}})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg.Client, opts, logger, os.Stdin, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.room, "room", "general", "room to join")
	flags.StringVar(&opts.user, "user", "cli-user", "display name when connecting without a token")
	flags.StringVar(&opts.token, "token", "", "bearer token from /api/login or /api/guest")
	flags.StringVar(&opts.server, "server", "", "websocket URL override")
	flags.StringVar(&opts.api, "api", "", "REST base URL override")
	return cmd
}

func runChat(ctx context.Context, cfg config.ClientConfig, opts *chatOptions, logger *zerolog.Logger, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := conn.NewManager(&conn.WSDialer{URL: cfg.ServerURL, User: opts.user}, conn.Options{
		Backoff: conn.Backoff{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   cfg.Reconnect.BaseDelay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
		},
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})
	hist := history.NewClient(cfg.APIURL, nil)
	hist.SetToken(opts.token)

	eng := engine.New(mgr, hist, engine.Options{
		PageSize:     cfg.PageSize,
		FetchTimeout: cfg.FetchTimeout,
		TypingTTL:    cfg.TypingTTL,
		Logger:       logger,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	r := newRenderer(out)
	go func() {
		for {
			select {
			case ch := <-eng.Changes():
				r.render(eng.Snapshot(), ch)
			case <-ctx.Done():
				return
			}
		}
	}()

	reconnect := func() { mgr.Connect(opts.token) }
	reconnect()
	defer mgr.Disconnect()

	if err := eng.JoinRoom(ctx, opts.room); err != nil {
		return fmt.Errorf("join %s: %w", opts.room, err)
	}
	fmt.Fprintf(out, "joining %s at %s. /help for commands, Ctrl+C to exit.\n", opts.room, cfg.ServerURL)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := parseInput(line)
			if input.name == "quit" {
				return nil
			}
			if err := execute(ctx, eng, reconnect, input, out); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

type chatInput struct {
	// name is empty for a plain message.
	name string
	arg  string
}

func parseInput(line string) chatInput {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return chatInput{arg: line}
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return chatInput{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

// Commands used by the chat loop.
type chatEngine interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	ActiveRoom() string
	FetchOlder(ctx context.Context) error
	Refresh(ctx context.Context) error
	Send(ctx context.Context, content string) error
	Delete(ctx context.Context, messageID int64) error
	StartTyping(ctx context.Context) error
	ConnectionStatus() conn.State
}

func execute(ctx context.Context, eng chatEngine, reconnect func(), input chatInput, out io.Writer) error {
	switch input.name {
	case "":
		return eng.Send(ctx, input.arg)
	case "help":
		fmt.Fprintln(out, chatHelp)
		return nil
	case "join":
		if input.arg == "" {
			return errors.New("usage: /join <room>")
		}
		return eng.JoinRoom(ctx, input.arg)
	case "leave":
		return eng.LeaveRoom(ctx, eng.ActiveRoom())
	case "older":
		return eng.FetchOlder(ctx)
	case "refresh":
		return eng.Refresh(ctx)
	case "reconnect":
		if status := eng.ConnectionStatus(); status != conn.Disconnected {
			return fmt.Errorf("already %s", status)
		}
		reconnect()
		return nil
	case "delete":
		id, err := strconv.ParseInt(input.arg, 10, 64)
		if err != nil || id <= 0 {
			return errors.New("usage: /delete <id>")
		}
		return eng.Delete(ctx, id)
	case "typing":
		return eng.StartTyping(ctx)
	default:
		return fmt.Errorf("unknown command /%s", input.name)
	}
}
