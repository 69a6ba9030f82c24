package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/forgeworks/bridge/internal/journal"
)

func newJournalCommand(logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect persisted run journals",
	}
	cmd.AddCommand(newJournalShowCommand(logger), newJournalListCommand())
	return cmd
}

func journalStore() (*journal.FileStore, error) {
	dir, err := journal.DefaultDir()
	if err != nil {
		return nil, err
	}
	return journal.NewFileStore(dir)
}

func newJournalShowCommand(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Replay the journal entries for one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := journalStore()
			if err != nil {
				return err
			}
			entries, err := store.ListByRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if logger != nil {
				logger.With("run_id", args[0], "entries", len(entries)).Debug("journal replayed")
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No journal entries for run %s.\n", args[0])
				return nil
			}

			for _, entry := range entries {
				line := fmt.Sprintf("%s  %-16s", entry.Timestamp.Format(time.RFC3339), entry.Type)
				if entry.Step != "" {
					line += "  " + entry.Step
				}
				if payload := strings.TrimSpace(string(entry.Payload)); payload != "" && payload != "{}" {
					line += "  " + payload
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newJournalListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs with a persisted journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := journalStore()
			if err != nil {
				return err
			}
			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs journaled yet.")
				return nil
			}
			for _, runID := range runs {
				fmt.Fprintln(cmd.OutOrStdout(), runID)
			}
			return nil
		},
	}
}
