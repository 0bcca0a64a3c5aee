package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsherman999/roomrelay/internal/config"
	"github.com/jsherman999/roomrelay/internal/message"
)

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	cfgPath string
	server  string
}

func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "roomrelay",
		Short: "Room relay CLI",
	}
	root.PersistentFlags().StringVar(&opts.cfgPath, "config", "", "config file (yaml)")
	root.PersistentFlags().StringVar(&opts.server, "server", "", "relay base URL (defaults to http://<api.listen>)")

	root.AddCommand(sendCmd(opts))
	root.AddCommand(statsCmd(opts))
	root.AddCommand(listenCmd(opts))
	return root
}

// baseURL resolves the relay address from --server or the config file.
func (o *options) baseURL() (string, error) {
	if o.server != "" {
		return strings.TrimRight(o.server, "/"), nil
	}
	cfg, err := config.Load(o.cfgPath)
	if err != nil {
		return "", err
	}
	return "http://" + cfg.API.Listen, nil
}

func sendCmd(opts *options) *cobra.Command {
	var room, senderID, senderType, command, payload, scope string
	var types, ids []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish one message to the room",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.baseURL()
			if err != nil {
				return err
			}

			msg := message.Message{
				RoomID:  room,
				Sender:  message.Sender{ID: senderID, Type: senderType},
				Command: command,
			}
			if scope != "" || len(types) > 0 || len(ids) > 0 {
				msg.Target = &message.Target{Scope: scope, Types: types, IDs: ids}
			}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				msg.Payload = json.RawMessage(payload)
			}
			if err := msg.Validate(); err != nil {
				return err
			}

			body, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			resp, err := doJSON(ctx, http.MethodPost, base+"/send", body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(resp)))
			return nil
		},
	}

	cmd.Flags().StringVar(&room, "room", config.DefaultRoomID, "room id")
	cmd.Flags().StringVar(&senderID, "id", "", "sender id")
	cmd.Flags().StringVar(&senderType, "type", message.RoleStudent, "sender role")
	cmd.Flags().StringVar(&command, "command", "", "command name")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	cmd.Flags().StringVar(&scope, "scope", "", "target scope (all, type, ids)")
	cmd.Flags().StringSliceVar(&types, "target-type", nil, "target roles for scope=type")
	cmd.Flags().StringSliceVar(&ids, "target-id", nil, "target ids for scope=ids")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func statsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show subscriber counts per transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.baseURL()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			b, err := doJSON(ctx, http.MethodGet, base+"/stats", nil)
			if err != nil {
				return err
			}
			var s struct {
				WS          int `json:"ws"`
				SSE         int `json:"sse"`
				LongPolling int `json:"long_polling"`
			}
			if err := json.Unmarshal(b, &s); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ws=%d sse=%d long_polling=%d\n", s.WS, s.SSE, s.LongPolling)
			return nil
		},
	}
}

func doJSON(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, strings.TrimSpace(string(b)))
	}
	return b, nil
}
