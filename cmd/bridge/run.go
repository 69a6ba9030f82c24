package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forgeworks/bridge/internal/config"
	"github.com/forgeworks/bridge/internal/events"
	"github.com/forgeworks/bridge/internal/journal"
	"github.com/forgeworks/bridge/internal/pipeline"
	"github.com/forgeworks/bridge/internal/repomap"
	"github.com/forgeworks/bridge/internal/runlock"
	"github.com/forgeworks/bridge/internal/telemetry"
)

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true)
	summaryLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	successStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func newRunCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		issue               string
		agent               string
		sandboxDefinition   string
		maxRetries          int
		haltOnClarification bool
		jsonOutput          bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one tracker issue from fetch to pull request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runCfg := *cfg
			if strings.TrimSpace(agent) != "" {
				runCfg.Agent = strings.TrimSpace(agent)
			}
			if strings.TrimSpace(sandboxDefinition) != "" {
				runCfg.SandboxDefinition = strings.TrimSpace(sandboxDefinition)
			}
			runCfg.MaxRetries = maxRetries
			runCfg.HaltOnClarification = haltOnClarification
			return runPipeline(cmd, &runCfg, logger, issue, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&issue, "issue", "", "tracker issue identifier, e.g. FD-107")
	cmd.Flags().StringVar(&agent, "agent", "", "agent name override")
	cmd.Flags().StringVar(&sandboxDefinition, "sandbox-definition", "", "sandbox definition override")
	cmd.Flags().IntVar(&maxRetries, "max-retries", cfg.MaxRetries, "corrective retries per artifact read")
	cmd.Flags().BoolVar(
		&haltOnClarification,
		"halt-on-clarification",
		cfg.HaltOnClarification,
		"stop after review when the issue needs clarification",
	)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the run result as JSON")
	_ = cmd.MarkFlagRequired("issue")

	return cmd
}

func runPipeline(
	cmd *cobra.Command,
	cfg *config.Config,
	logger *log.Logger,
	identifier string,
	jsonOutput bool,
) error {
	ctx := cmd.Context()

	shutdownTracing, err := telemetry.Init(ctx)
	if err != nil {
		if logger != nil {
			logger.With("error", err).Warn("tracing disabled")
		}
	} else {
		defer shutdownTracing()
	}

	busOptions := []events.Option{}
	if logger != nil {
		busOptions = append(busOptions, events.WithLogger(logger))
	}
	bus := events.New(busOptions...)

	store, err := journalStore()
	if err != nil {
		return err
	}
	journalService, err := journal.NewService(store, bus)
	if err != nil {
		return err
	}
	recorder, err := journal.NewRecorder(journalService)
	if err != nil {
		return err
	}
	recorder.Attach(bus)

	lockPath, err := runlock.DefaultPath()
	if err != nil {
		return err
	}
	lockStore, err := runlock.NewFileStore(lockPath)
	if err != nil {
		return err
	}
	locks, err := runlock.NewManager(lockStore, runlock.ManagerConfig{})
	if err != nil {
		return err
	}

	forgeClient, err := newForgeClient(cfg)
	if err != nil {
		return fmt.Errorf("configure forge client: %w", err)
	}
	tracker, stubMode, err := newIssueTracker(cfg)
	if err != nil {
		return fmt.Errorf("configure issue tracker: %w", err)
	}
	if stubMode {
		if logger != nil {
			logger.Warn("no linear api key configured, issue tracker runs in stub mode")
		}
		fmt.Fprintln(
			cmd.ErrOrStderr(),
			warnStyle.Render("No Linear API key configured: tracker reads and writes are stubbed."),
		)
	}

	mapping, err := repomap.Load()
	if err != nil {
		return fmt.Errorf("load repo mapping: %w", err)
	}

	runner, err := pipeline.New(forgeClient, tracker, mapping, locks, journalService, bus, pipeline.Config{
		Agent:               cfg.Agent,
		SandboxDefinition:   cfg.SandboxDefinition,
		MaxRetries:          cfg.MaxRetries,
		SessionWait:         cfg.SessionWait,
		CommandWait:         cfg.CommandWait,
		FinishPolicy:        cfg.FinishPolicy,
		HaltOnClarification: cfg.HaltOnClarification,
	})
	if err != nil {
		return err
	}

	progress := startRunProgress(cmd, bus, jsonOutput)
	result, runErr := runner.Run(ctx, identifier)
	progress.stop()

	if logger != nil && result != nil {
		logger.With("run_id", result.RunID, "outcome", result.Outcome).Info("run finished")
	}

	if jsonOutput {
		if result != nil {
			encoded, encodeErr := json.MarshalIndent(result, "", "  ")
			if encodeErr != nil {
				return errors.Join(runErr, fmt.Errorf("encode run result: %w", encodeErr))
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		}
		return runErr
	}

	if result != nil {
		fmt.Fprint(cmd.OutOrStdout(), renderRunSummary(result))
	}
	return runErr
}

type runProgress struct {
	spin *spinner.Spinner
}

// startRunProgress shows a live spinner on interactive terminals, fed by
// step events off the bus. JSON output and non-TTY invocations stay silent.
func startRunProgress(cmd *cobra.Command, bus events.Bus, jsonOutput bool) *runProgress {
	if jsonOutput || !term.IsTerminal(int(os.Stderr.Fd())) {
		return &runProgress{}
	}

	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	spin.Suffix = " starting run"
	bus.Subscribe(events.EventTypeStepStarted, func(event events.Event) {
		if entry, ok := event.Payload.(journal.Entry); ok && entry.Step != "" {
			spin.Suffix = " " + strings.ReplaceAll(entry.Step, "_", " ")
		}
	})
	spin.Start()
	return &runProgress{spin: spin}
}

func (p *runProgress) stop() {
	if p.spin != nil {
		p.spin.Stop()
	}
}

func renderRunSummary(result *pipeline.RunResult) string {
	var b strings.Builder

	b.WriteString(summaryTitleStyle.Render("Run "+result.RunID) + "\n")
	b.WriteString(summaryLine("Issue", result.Identifier))
	if result.Issue != nil {
		b.WriteString(summaryLine("Title", result.Issue.Title))
	}
	if result.Repo != nil {
		b.WriteString(summaryLine("Repository", result.Repo.Owner+"/"+result.Repo.RepoName))
	}
	if result.SessionID != "" {
		b.WriteString(summaryLine("Session", result.SessionID))
	}
	if result.SpecReview != nil {
		b.WriteString(summaryLine(
			"Review",
			fmt.Sprintf("%d/100 (%s)", result.SpecReview.Score, result.SpecReview.Decision),
		))
	}
	if result.Design != nil {
		b.WriteString(summaryLine("Branch", result.Design.BranchName))
	}
	if result.Implementation != nil {
		b.WriteString(summaryLine("Pull request", result.Implementation.PRURL))
	}
	if result.TrackerUpdate != nil {
		b.WriteString(summaryLine(
			"Tracker",
			fmt.Sprintf(
				"comment posted=%t, state updated=%t",
				result.TrackerUpdate.CommentPosted,
				result.TrackerUpdate.StateUpdated,
			),
		))
	}
	if result.FinishError != "" {
		b.WriteString(summaryLine("Finish", warnStyle.Render(result.FinishError)))
	}

	outcome := errorStyle.Render(result.Outcome)
	switch result.Outcome {
	case pipeline.OutcomeCompleted:
		outcome = successStyle.Render(result.Outcome)
	case pipeline.OutcomeClarification:
		outcome = warnStyle.Render(result.Outcome)
	}
	b.WriteString(summaryLine("Outcome", outcome))
	if !result.FinishedAt.IsZero() && !result.StartedAt.IsZero() {
		b.WriteString(summaryLine("Duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Second).String()))
	}

	if result.Outcome == pipeline.OutcomeClarification && result.SpecReview != nil && len(result.SpecReview.Questions) > 0 {
		b.WriteString("\n" + warnStyle.Render("Open questions") + "\n")
		for i, question := range result.SpecReview.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, question)
		}
	}
	return b.String()
}

func summaryLine(label, value string) string {
	return summaryLabelStyle.Render(fmt.Sprintf("%12s", label)) + "  " + value + "\n"
}
