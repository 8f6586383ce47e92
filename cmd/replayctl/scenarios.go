package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func scenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List and play predefined replay scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listScenarios(cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the endpoint's predefined scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listScenarios(cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "play SCENARIO_ID",
		Short: "Start a predefined scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			reply, err := client.scenarioPlay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("scenario %s %s\n", args[0], reply.Status)
			printSession(reply.Session)
			return nil
		},
	})

	return cmd
}

func listScenarios(cmd *cobra.Command) error {
	client := newAPIClient(serverURL)
	reply, err := client.scenarios(cmd.Context())
	if err != nil {
		return err
	}
	if reply.Count == 0 {
		fmt.Println("no scenarios available")
		return nil
	}
	for _, sc := range reply.Scenarios {
		if sc.Description != "" {
			fmt.Printf("%-6s %s\n", sc.ID, sc.Description)
		} else {
			fmt.Println(sc.ID)
		}
	}
	return nil
}
