package cli

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jsherman999/roomrelay/internal/message"
)

func listenCmd(opts *options) *cobra.Command {
	var id string
	var heartbeats bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe over WebSocket and print every relayed message",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.baseURL()
			if err != nil {
				return err
			}
			u, err := wsURL(base, id)
			if err != nil {
				return err
			}

			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", u, err)
			}
			defer conn.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)
			go func() {
				<-sig
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
			}()

			return printFrames(conn, cmd, heartbeats)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "subscriber id (generated by the server when empty)")
	cmd.Flags().BoolVar(&heartbeats, "heartbeats", false, "also print server heartbeats")
	return cmd
}

func printFrames(conn *websocket.Conn, cmd *cobra.Command, heartbeats bool) error {
	out := cmd.OutOrStdout()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		msg, err := message.Parse(frame)
		if err != nil {
			// Error replies from the server are not messages.
			fmt.Fprintln(cmd.ErrOrStderr(), strings.TrimSpace(string(frame)))
			continue
		}
		if msg.IsHeartbeat() && !heartbeats {
			continue
		}
		fmt.Fprintln(out, strings.TrimSpace(string(frame)))
	}
}

func wsURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if id != "" {
		q := u.Query()
		q.Set("id", id)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
