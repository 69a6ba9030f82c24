package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/forgeworks/bridge/internal/config"
)

func newSessionCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Operate directly on forge sessions",
	}
	cmd.AddCommand(
		newSessionShowCommand(cfg),
		newSessionTrajectoryCommand(cfg),
		newSessionFinishCommand(cfg, logger),
	)
	return cmd
}

func newSessionShowCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the current state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newForgeClient(cfg)
			if err != nil {
				return fmt.Errorf("configure forge client: %w", err)
			}
			session, err := client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:      %s\n", session.ID)
			fmt.Fprintf(out, "State:   %s\n", session.State)
			if session.AgentID != "" {
				fmt.Fprintf(out, "Agent:   %s\n", session.AgentID)
			}
			if session.SandboxDefinitionID != "" {
				fmt.Fprintf(out, "Sandbox: %s\n", session.SandboxDefinitionID)
			}
			if !session.CreatedAt.IsZero() {
				fmt.Fprintf(out, "Created: %s\n", session.CreatedAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newSessionTrajectoryCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "trajectory <session-id>",
		Short: "Dump the full interaction record of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newForgeClient(cfg)
			if err != nil {
				return fmt.Errorf("configure forge client: %w", err)
			}
			raw, err := client.Trajectory(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch trajectory: %w", err)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
}

func newSessionFinishCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "finish <session-id>",
		Short: "Finish a session and release its sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newForgeClient(cfg)
			if err != nil {
				return fmt.Errorf("configure forge client: %w", err)
			}
			if err := client.Finish(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("finish session: %w", err)
			}
			if logger != nil {
				logger.With("session_id", args[0]).Info("session finished")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s finished.\n", args[0])
			return nil
		},
	}
}
