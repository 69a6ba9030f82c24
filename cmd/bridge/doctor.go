package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/forgeworks/bridge/internal/config"
	"github.com/forgeworks/bridge/internal/doctor"
	"github.com/forgeworks/bridge/internal/repomap"
)

func newDoctorCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials, and control plane reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Without forge credentials the client cannot be built; the
			// affected checks then report that instead of aborting.
			var agents doctor.AgentLister
			if client, err := newForgeClient(cfg); err == nil {
				agents = client
			}

			runner, err := doctor.NewRunner(cfg, agents, repomap.Load, nil)
			if err != nil {
				return err
			}
			report := runner.Run(cmd.Context())

			writer := table.NewWriter()
			writer.SetOutputMirror(cmd.OutOrStdout())
			writer.SetStyle(table.StyleLight)
			writer.AppendHeader(table.Row{"Check", "Status", "Detail"})
			failed := 0
			for _, check := range report.Checks {
				if check.Status == doctor.StatusFail {
					failed++
				}
				writer.AppendRow(table.Row{check.Name, strings.ToUpper(check.Status), check.Detail})
			}
			writer.Render()

			if logger != nil {
				logger.With("healthy", report.Healthy()).Info("doctor report")
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(report.Checks))
			}
			return nil
		},
	}
}
