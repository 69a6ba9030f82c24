package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/forgeworks/bridge/internal/config"
	"github.com/forgeworks/bridge/internal/linear"
)

func newIssueCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Inspect tracker issues",
	}
	cmd.AddCommand(newIssueShowCommand(cfg, logger))
	return cmd
}

func newIssueShowCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show <identifier>",
		Short: "Show one tracker issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, stubMode, err := newIssueTracker(cfg)
			if err != nil {
				return fmt.Errorf("configure issue tracker: %w", err)
			}
			if stubMode {
				fmt.Fprintln(cmd.ErrOrStderr(), "No Linear API key configured: showing stub issue data.")
			}
			issue, err := tracker.FetchIssue(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch issue: %w", err)
			}
			if logger != nil {
				logger.With("identifier", issue.Identifier).Debug("fetched issue")
			}
			fmt.Fprint(cmd.OutOrStdout(), renderIssueMarkdown(issue))
			return nil
		},
	}
}

func renderIssueMarkdown(issue *linear.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", issue.Identifier, issue.Title)
	fmt.Fprintf(&b, "- **State:** %s\n", valueOrDash(issue.State))
	fmt.Fprintf(&b, "- **Team:** %s\n", valueOrDash(issue.TeamName))
	fmt.Fprintf(&b, "- **Project:** %s\n", valueOrDash(issue.ProjectName))
	fmt.Fprintf(&b, "- **Priority:** %d\n", issue.Priority)
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "- **Labels:** %s\n", strings.Join(issue.Labels, ", "))
	}
	if issue.URL != "" {
		fmt.Fprintf(&b, "- **URL:** %s\n", issue.URL)
	}

	description := strings.TrimSpace(issue.Description)
	if description == "" {
		description = "(no description provided)"
	}
	fmt.Fprintf(&b, "\n%s\n", description)

	return renderMarkdown(b.String())
}

// renderMarkdown falls back to the raw text when the terminal renderer
// cannot be built or the input will not render.
func renderMarkdown(markdown string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
