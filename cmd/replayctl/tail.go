package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func tailCmd() *cobra.Command {
	var (
		topics []string
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live events from the daemon",
		Long: `Connect to the daemon's websocket and print events as they arrive.

Every connection receives global events automatically; --topic narrows in on
a match or session.

Examples:
  replayctl tail

  replayctl tail --topic match:sr:match:12345

  replayctl tail --topic session:7 --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			wsURL, err := websocketURL(serverURL)
			if err != nil {
				return err
			}

			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("dialing %s: %w", wsURL, err)
			}
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			defer conn.Close()

			for _, topic := range topics {
				sub := map[string]string{"action": "subscribe", "topic": topic}
				if err := conn.WriteJSON(sub); err != nil {
					return fmt.Errorf("subscribing to %s: %w", topic, err)
				}
			}

			// Unblock ReadMessage when the user interrupts.
			go func() {
				<-ctx.Done()
				deadline := time.Now().Add(time.Second)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				conn.Close()
			}()

			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("reading: %w", err)
				}
				printFrame(payload, raw)
			}
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topic", nil, "extra topics to subscribe (match:<urn>, session:<id>)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print raw frames")

	return cmd
}

func printFrame(payload []byte, raw bool) {
	if raw {
		fmt.Println(string(payload))
		return
	}

	var frame struct {
		Type  string          `json:"type"`
		Topic string          `json:"topic,omitempty"`
		Data  json.RawMessage `json:"data,omitempty"`
		TS    int64           `json:"ts"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		fmt.Println(string(payload))
		return
	}

	ts := time.UnixMilli(frame.TS).Format("15:04:05.000")
	if frame.Topic != "" {
		fmt.Printf("%s  %-13s %-24s %s\n", ts, frame.Type, frame.Topic, frame.Data)
	} else {
		fmt.Printf("%s  %-13s %s\n", ts, frame.Type, frame.Data)
	}
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
