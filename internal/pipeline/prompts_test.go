package pipeline

import (
	"strings"
	"testing"
)

func TestBuildInvestigatePromptRendersIssueAndRepo(t *testing.T) {
	t.Parallel()

	prompt, err := BuildInvestigatePrompt(testIssue(), testTarget())
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}

	for _, fragment := range []string{
		"**Issue:** Fix flaky timeout in sandbox health check",
		"**Identifier:** FD-107",
		"**Repository:** acme/payments (branch: main)",
		"git clone https://github.com/acme/payments.git /workspace/payments && cd /workspace/payments",
		"Write your findings as JSON to /tmp/investigate_result.json",
		"Write ONLY valid JSON to the file, no markdown or extra text.",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}
	if strings.Contains(prompt, "{{") {
		t.Fatalf("unrendered template syntax:\n%s", prompt)
	}
}

func TestBuildInvestigatePromptFallsBackOnEmptyDescription(t *testing.T) {
	t.Parallel()

	issue := testIssue()
	issue.Description = "   "

	prompt, err := BuildInvestigatePrompt(issue, testTarget())
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if !strings.Contains(prompt, "(no description provided)") {
		t.Fatalf("prompt missing description fallback:\n%s", prompt)
	}
}

func TestBuildInvestigatePromptRequiresInputs(t *testing.T) {
	t.Parallel()

	if _, err := BuildInvestigatePrompt(nil, testTarget()); err == nil {
		t.Fatal("expected error for nil issue")
	}
	if _, err := BuildInvestigatePrompt(testIssue(), nil); err == nil {
		t.Fatal("expected error for nil repo target")
	}
}

func TestBuildReviewSpecPromptNamesCriteria(t *testing.T) {
	t.Parallel()

	prompt, err := BuildReviewSpecPrompt()
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}

	for _, fragment := range []string{
		"Score the specification on these 7 criteria (0-100 each)",
		"Write your assessment as JSON to /tmp/validate_spec_result.json",
		`"proceed" or "needs_clarification"`,
		"If average score >= 50",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}
}

func TestBuildDesignPromptNamesOutputPath(t *testing.T) {
	t.Parallel()

	prompt, err := BuildDesignPrompt()
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if !strings.Contains(prompt, "Propose 2-3 possible approaches") {
		t.Fatalf("prompt missing approach instruction:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Write your design as JSON to /tmp/design_result.json") {
		t.Fatalf("prompt missing output path:\n%s", prompt)
	}
}

func TestBuildImplementPromptCarriesBranch(t *testing.T) {
	t.Parallel()

	prompt, err := BuildImplementPrompt("fix/fd-107-async-resolver")
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	for _, fragment := range []string{
		"git checkout -b fix/fd-107-async-resolver",
		"git push origin fix/fd-107-async-resolver",
		"write the results as JSON to /tmp/implement_result.json",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}

	if _, err := BuildImplementPrompt("  "); err == nil {
		t.Fatal("expected error for empty branch name")
	}
}
