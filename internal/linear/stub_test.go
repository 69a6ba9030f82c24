package linear

import (
	"context"
	"strings"
	"testing"
)

func TestStubFetchIssueReturnsCannedFixture(t *testing.T) {
	t.Parallel()

	issue, err := NewStub().FetchIssue(context.Background(), "FD-107")
	if err != nil {
		t.Fatalf("fetch issue: %v", err)
	}

	if issue.IssueID != "stub-fd-107" || issue.Identifier != "FD-107" {
		t.Fatalf("identity = %q/%q", issue.IssueID, issue.Identifier)
	}
	if issue.Title != "Fix flaky timeout in sandbox health check" {
		t.Fatalf("title = %q", issue.Title)
	}
	if !strings.Contains(issue.Description, "blocking DNS lookup") {
		t.Fatalf("description = %q, want fixture text", issue.Description)
	}
	if issue.TeamName != "Forward Deployed" || issue.ProjectName != "FD" {
		t.Fatalf("team/project = %q/%q", issue.TeamName, issue.ProjectName)
	}
	if len(issue.Labels) != 2 || issue.Labels[0] != "bug" || issue.Labels[1] != "sandbox" {
		t.Fatalf("labels = %v", issue.Labels)
	}
	if issue.Priority != 2 || issue.State != "In Progress" {
		t.Fatalf("priority/state = %d/%q", issue.Priority, issue.State)
	}
}

func TestStubFetchIssueGenericIdentifier(t *testing.T) {
	t.Parallel()

	issue, err := NewStub().FetchIssue(context.Background(), "ENG-42")
	if err != nil {
		t.Fatalf("fetch issue: %v", err)
	}

	if issue.IssueID != "stub-eng-42" {
		t.Fatalf("issue id = %q, want lowercased stub id", issue.IssueID)
	}
	if issue.Title != "Stub issue for ENG-42" {
		t.Fatalf("title = %q", issue.Title)
	}
	if issue.ProjectName != "ENG" {
		t.Fatalf("project = %q, want identifier prefix", issue.ProjectName)
	}
	if issue.TeamName != "Forward Deployed" {
		t.Fatalf("team = %q", issue.TeamName)
	}
}

func TestStubFetchIssueWithoutProjectPrefix(t *testing.T) {
	t.Parallel()

	issue, err := NewStub().FetchIssue(context.Background(), "standalone")
	if err != nil {
		t.Fatalf("fetch issue: %v", err)
	}
	if issue.ProjectName != "" {
		t.Fatalf("project = %q, want empty without a dash prefix", issue.ProjectName)
	}
}

func TestStubRecordsWrites(t *testing.T) {
	t.Parallel()

	stub := NewStub()

	posted, err := stub.PostComment(context.Background(), "stub-fd-107", "PR is up")
	if err != nil || !posted {
		t.Fatalf("post comment = %v, %v, want success", posted, err)
	}
	moved, err := stub.MoveToInReview(context.Background(), "stub-fd-107", "Forward Deployed")
	if err != nil || !moved {
		t.Fatalf("move = %v, %v, want success", moved, err)
	}

	comments := stub.Comments()
	if len(comments) != 1 || comments[0].Body != "PR is up" {
		t.Fatalf("comments = %+v, want recorded body", comments)
	}
	changes := stub.StateChanges()
	if len(changes) != 1 || changes[0].TeamName != "Forward Deployed" {
		t.Fatalf("state changes = %+v, want recorded move", changes)
	}
}
