package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/plansync/internal/conn"
	"github.com/vovakirdan/plansync/internal/proto"
	"github.com/vovakirdan/plansync/internal/utils"
)

type smokeOptions struct {
	room    string
	user    string
	token   string
	text    string
	server  string
	timeout time.Duration
}

func newSmokeCmd(root *rootOptions) *cobra.Command {
	opts := &smokeOptions{}
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Send one message and wait for the server to echo it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			if opts.server == "" {
				opts.server = cfg.Client.ServerURL
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runSmoke(ctx, &conn.WSDialer{URL: opts.server, User: opts.user}, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.room, "room", "general", "room name")
	flags.StringVar(&opts.user, "user", "tester", "display name when connecting without a token")
	flags.StringVar(&opts.token, "token", "", "bearer token")
	flags.StringVar(&opts.text, "text", "hello from smoke test", "message text to send")
	flags.StringVar(&opts.server, "server", "", "websocket URL override")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "total timeout for the run")
	return cmd
}

// runSmoke performs hello, subscribe and send on a bare transport and
// returns once the message comes back tagged with its correlation id.
func runSmoke(ctx context.Context, dialer conn.Dialer, opts *smokeOptions, out io.Writer) error {
	t, err := dialer.Dial(ctx, opts.token)
	if err != nil {
		return err
	}
	defer t.Close()

	subscribe, err := proto.NewInbound(proto.InboundTypeSubscribe, proto.RoomData{Room: opts.room})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := t.Write(ctx, subscribe); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	clientID := utils.NewID()
	send, err := proto.NewInbound(proto.InboundTypeSend, proto.SendData{Room: opts.room, Content: opts.text, ClientID: clientID})
	if err != nil {
		return fmt.Errorf("marshal send: %w", err)
	}
	if err := t.Write(ctx, send); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	for {
		env, err := t.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Fprintf(out, "received type=%s", env.Type)
		if env.Event != "" {
			fmt.Fprintf(out, " event=%s", env.Event)
		}
		fmt.Fprintln(out)

		if env.Type == proto.OutboundTypeError && env.Error != nil {
			if env.Error.ClientID == clientID {
				return fmt.Errorf("server rejected message: %s: %s", env.Error.Code, env.Error.Msg)
			}
			fmt.Fprintf(out, "error: %s: %s\n", env.Error.Code, env.Error.Msg)
			continue
		}
		if env.Event != proto.EventMessage {
			continue
		}

		var msg proto.EventMessageData
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		if msg.ClientID != clientID {
			continue
		}
		fmt.Fprintf(out, "message: id=%d room=%s user=%s content=%q ts=%d\n", msg.ID, msg.Room, msg.User, msg.Content, msg.TS)
		return nil
	}
}
