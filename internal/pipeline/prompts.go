package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/forgeworks/bridge/internal/linear"
	"github.com/forgeworks/bridge/internal/repomap"
)

//go:embed prompts/*.tmpl
var promptTemplatesFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptTemplatesFS, "prompts/*.tmpl"))

// Sessions write step artifacts to fixed paths inside the sandbox. The
// prompts name these paths and the collector reads them back.
const (
	investigateOutputPath = "/tmp/investigate_result.json"
	reviewOutputPath      = "/tmp/validate_spec_result.json"
	designOutputPath      = "/tmp/design_result.json"
	implementOutputPath   = "/tmp/implement_result.json"
)

// investigateCorrective names the expected keys instead of the generic
// schema description; the opening prompt already showed the full shape.
const investigateCorrective = "Please write valid JSON to that path with keys: root_cause, affected_files, summary."

// BuildInvestigatePrompt renders the opening prompt that sends a fresh
// session off to clone the repository and investigate the issue.
func BuildInvestigatePrompt(issue *linear.Issue, repo *repomap.Target) (string, error) {
	if issue == nil {
		return "", fmt.Errorf("issue is required for investigate prompt")
	}
	if repo == nil {
		return "", fmt.Errorf("repository target is required for investigate prompt")
	}

	renderInput := struct {
		Title       string
		Identifier  string
		Description string
		Owner       string
		RepoName    string
		Branch      string
		RepoURL     string
		OutputPath  string
	}{
		Title:       strings.TrimSpace(issue.Title),
		Identifier:  strings.TrimSpace(issue.Identifier),
		Description: strings.TrimSpace(issue.Description),
		Owner:       repo.Owner,
		RepoName:    repo.RepoName,
		Branch:      repo.Branch,
		RepoURL:     repo.RepoURL,
		OutputPath:  investigateOutputPath,
	}
	if renderInput.Description == "" {
		renderInput.Description = "(no description provided)"
	}

	return renderTemplate("investigate.tmpl", renderInput)
}

// BuildReviewSpecPrompt renders the follow-up prompt that scores the issue
// specification for completeness.
func BuildReviewSpecPrompt() (string, error) {
	renderInput := struct {
		OutputPath string
	}{
		OutputPath: reviewOutputPath,
	}
	return renderTemplate("review_spec.tmpl", renderInput)
}

// BuildDesignPrompt renders the follow-up prompt that asks the session to
// design the implementation approach.
func BuildDesignPrompt() (string, error) {
	renderInput := struct {
		OutputPath string
	}{
		OutputPath: designOutputPath,
	}
	return renderTemplate("design.tmpl", renderInput)
}

// BuildImplementPrompt renders the follow-up prompt that has the session
// implement the design and open a pull request on the named branch.
func BuildImplementPrompt(branchName string) (string, error) {
	branchName = strings.TrimSpace(branchName)
	if branchName == "" {
		return "", fmt.Errorf("branch name is required for implement prompt")
	}

	renderInput := struct {
		BranchName string
		OutputPath string
	}{
		BranchName: branchName,
		OutputPath: implementOutputPath,
	}
	return renderTemplate("implement.tmpl", renderInput)
}

func renderTemplate(templateName string, data any) (string, error) {
	var prompt bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&prompt, templateName, data); err != nil {
		return "", fmt.Errorf("render %s: %w", templateName, err)
	}
	return prompt.String(), nil
}
