package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func printSession(s *sessionView) {
	if s == nil {
		return
	}
	fmt.Printf("  session #%d", s.ID)
	if s.Label != "" {
		fmt.Printf(" (%s)", s.Label)
	}
	fmt.Printf("  speed=%dx  max_delay=%dms\n", s.Speed, s.MaxDelay)
	if s.StartedAt != nil {
		fmt.Printf("  started %s\n", s.StartedAt.Format(time.RFC3339))
	}
	if s.EndedAt != nil {
		fmt.Printf("  ended   %s\n", s.EndedAt.Format(time.RFC3339))
	}
}

func startCmd() *cobra.Command {
	var (
		label              string
		speed              int
		maxDelay           int
		useReplayTimestamp bool
		nodeID             int
		products           []string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start replaying the queued playlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			reply, err := client.start(cmd.Context(), startRequest{
				Label:              label,
				Speed:              speed,
				MaxDelay:           maxDelay,
				UseReplayTimestamp: useReplayTimestamp,
				NodeID:             nodeID,
				Products:           products,
			})
			if err != nil {
				return err
			}
			fmt.Printf("replay %s\n", reply.Status)
			printSession(reply.Session)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "label for the session")
	cmd.Flags().IntVar(&speed, "speed", 0, "playback speed multiplier (daemon default when 0)")
	cmd.Flags().IntVar(&maxDelay, "max-delay", 0, "maximum gap between messages in ms (daemon default when 0)")
	cmd.Flags().BoolVar(&useReplayTimestamp, "use-replay-timestamp", false, "stamp messages with replay time instead of original time")
	cmd.Flags().IntVar(&nodeID, "node-id", 0, "node id for routing")
	cmd.Flags().StringSliceVar(&products, "product", nil, "restrict replay to products")

	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			reply, err := client.stop(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("replay %s\n", reply.Status)
			printSession(reply.Session)
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the replay slot to idle (keeps the playlist)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			reply, err := client.reset(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("replay %s\n", reply.Status)
			printSession(reply.Session)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local and remote replay state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			reply, err := client.status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\n", reply.Status)
			if reply.Remote != "" {
				fmt.Printf("remote: %s\n", reply.Remote)
			}
			if reply.Degraded {
				fmt.Println("degraded: control endpoint unreachable")
			}
			printSession(reply.Session)
			return nil
		},
	}
}

func playCmd() *cobra.Command {
	var (
		eventType          string
		speed              int
		maxDelay           int
		useReplayTimestamp bool
		nodeID             int
		products           []string
		wait               time.Duration
	)

	cmd := &cobra.Command{
		Use:   "play EVENT_URN",
		Short: "Replay a single event from scratch",
		Long: `Reset the replay slot, queue one event and start playing it.

Examples:
  # Replay a match at 20x
  replayctl play sr:match:12345 --speed 20

  # Bare ids default to match URNs
  replayctl play 12345

  # Block until the remote endpoint confirms playback
  replayctl play sr:match:12345 --wait 60s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := newAPIClient(serverURL)

			if _, err := client.reset(ctx); err != nil {
				return fmt.Errorf("reset: %w", err)
			}

			item, err := client.playlistAdd(ctx, playlistRequest{EventID: args[0], EventType: eventType})
			if err != nil {
				return fmt.Errorf("queue %s: %w", args[0], err)
			}
			fmt.Printf("queued %s at position %d\n", item.MatchID, item.Position)

			reply, err := client.start(ctx, startRequest{
				Label:              "single " + item.MatchID,
				Speed:              speed,
				MaxDelay:           maxDelay,
				UseReplayTimestamp: useReplayTimestamp,
				NodeID:             nodeID,
				Products:           products,
			})
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			fmt.Printf("replay %s\n", reply.Status)
			printSession(reply.Session)

			if wait <= 0 {
				return nil
			}

			fmt.Print("waiting for remote playback")
			deadline := time.Now().Add(wait)
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					fmt.Println()
					return ctx.Err()
				case <-ticker.C:
					st, err := client.status(ctx)
					if err != nil {
						logger.Warn("status poll failed", zap.Error(err))
					} else if st.Remote == "playing" {
						fmt.Println(" confirmed")
						return nil
					}
					if time.Now().After(deadline) {
						fmt.Println()
						return fmt.Errorf("remote did not report playing within %s", wait)
					}
					fmt.Print(".")
				}
			}
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "match", "event type (match, stage, season, tournament)")
	cmd.Flags().IntVar(&speed, "speed", 0, "playback speed multiplier (daemon default when 0)")
	cmd.Flags().IntVar(&maxDelay, "max-delay", 0, "maximum gap between messages in ms (daemon default when 0)")
	cmd.Flags().BoolVar(&useReplayTimestamp, "use-replay-timestamp", false, "stamp messages with replay time instead of original time")
	cmd.Flags().IntVar(&nodeID, "node-id", 0, "node id for routing")
	cmd.Flags().StringSliceVar(&products, "product", nil, "restrict replay to products")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll until the remote confirms playback (0 = don't wait)")

	return cmd
}
