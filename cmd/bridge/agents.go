package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/forgeworks/bridge/internal/config"
)

func newAgentsCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents on the forge control plane",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newForgeClient(cfg)
			if err != nil {
				return fmt.Errorf("configure forge client: %w", err)
			}
			agents, err := client.ListAgents(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("list agents: %w", err)
			}
			if logger != nil {
				logger.With("count", len(agents)).Debug("listed agents")
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents found.")
				return nil
			}

			writer := table.NewWriter()
			writer.SetOutputMirror(cmd.OutOrStdout())
			writer.SetStyle(table.StyleLight)
			writer.AppendHeader(table.Row{"ID", "Name"})
			for _, agent := range agents {
				writer.AppendRow(table.Row{agent.ID, agent.Name})
			}
			writer.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "filter agents by exact name")
	return cmd
}
