package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func playlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlist",
		Short: "Manage the replay playlist",
	}

	cmd.AddCommand(playlistListCmd())
	cmd.AddCommand(playlistAddCmd())
	cmd.AddCommand(playlistRemoveCmd())

	return cmd
}

func playlistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the queued events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			reply, err := client.playlistList(cmd.Context())
			if err != nil {
				return err
			}
			if reply.Fallback {
				fmt.Println("(control endpoint unreachable, showing local mirror)")
			}
			if len(reply.Events) == 0 {
				fmt.Println("playlist is empty")
				return nil
			}
			for _, ev := range reply.Events {
				if ev.Type != "" {
					fmt.Printf("%3d  %s (%s)\n", ev.Position, ev.MatchID, ev.Type)
				} else {
					fmt.Printf("%3d  %s\n", ev.Position, ev.MatchID)
				}
			}
			return nil
		},
	}
}

func playlistAddCmd() *cobra.Command {
	var (
		eventType string
		startTime int
	)

	cmd := &cobra.Command{
		Use:   "add EVENT_URN",
		Short: "Queue an event for replay",
		Long: `Queue an event on the remote replay endpoint.

Examples:
  replayctl playlist add sr:match:12345

  # Bare ids default to match URNs
  replayctl playlist add 12345

  # Other event types
  replayctl playlist add sr:stage:339772`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			item, err := client.playlistAdd(cmd.Context(), playlistRequest{
				EventID:   args[0],
				EventType: eventType,
				StartTime: startTime,
			})
			if err != nil {
				return err
			}
			fmt.Printf("queued %s at position %d\n", item.MatchID, item.Position)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "match", "event type (match, stage, season, tournament)")
	cmd.Flags().IntVar(&startTime, "start-time", 0, "minutes into the event to start from")

	return cmd
}

func playlistRemoveCmd() *cobra.Command {
	var eventType string

	cmd := &cobra.Command{
		Use:   "remove EVENT_URN",
		Short: "Remove a queued event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			removed, err := client.playlistRemove(cmd.Context(), playlistRequest{
				EventID:   args[0],
				EventType: eventType,
			})
			if err != nil {
				return err
			}
			if removed {
				fmt.Printf("removed %s\n", args[0])
			} else {
				fmt.Printf("%s was not queued\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "match", "event type (match, stage, season, tournament)")

	return cmd
}
