package linear

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Issue is the tracker metadata the pipeline works from. Fields absent on
// the remote issue (no team, no project, empty description) decode to zero
// values rather than errors.
type Issue struct {
	IssueID     string   `json:"issue_id"`
	Identifier  string   `json:"identifier"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	TeamName    string   `json:"team_name"`
	ProjectName string   `json:"project_name"`
	Labels      []string `json:"labels"`
	Priority    int      `json:"priority"`
	URL         string   `json:"url"`
	State       string   `json:"state"`
}

const issueQuery = `
query GetIssue($id: String!) {
    issue(id: $id) {
        id
        identifier
        title
        description
        team { name }
        project { name }
        labels { nodes { name } }
        priority
        url
        state { name }
    }
}`

const createCommentMutation = `
mutation CreateComment($issueId: String!, $body: String!) {
    commentCreate(input: { issueId: $issueId, body: $body }) {
        success
    }
}`

const inReviewStateQuery = `
query GetInReviewState($teamName: String!) {
    workflowStates(filter: { name: { eq: "In Review" }, team: { name: { eq: $teamName } } }) {
        nodes { id name }
    }
}`

const updateIssueStateMutation = `
mutation UpdateIssue($issueId: String!, $stateId: String!) {
    issueUpdate(id: $issueId, input: { stateId: $stateId }) {
        success
    }
}`

type namedNode struct {
	Name string `json:"name"`
}

type issuePayload struct {
	Issue *struct {
		ID          string     `json:"id"`
		Identifier  string     `json:"identifier"`
		Title       string     `json:"title"`
		Description string     `json:"description"`
		Team        *namedNode `json:"team"`
		Project     *namedNode `json:"project"`
		Labels      *struct {
			Nodes []namedNode `json:"nodes"`
		} `json:"labels"`
		Priority int        `json:"priority"`
		URL      string     `json:"url"`
		State    *namedNode `json:"state"`
	} `json:"issue"`
}

// FetchIssue loads one issue by identifier (for example "FD-107") or UUID.
func (c *Client) FetchIssue(ctx context.Context, identifier string) (*Issue, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errors.New("issue identifier is required")
	}

	var payload issuePayload
	if err := c.execute(ctx, issueQuery, map[string]any{"id": identifier}, &payload); err != nil {
		return nil, err
	}
	if payload.Issue == nil {
		return nil, fmt.Errorf("issue %s not found", identifier)
	}

	raw := payload.Issue
	issue := &Issue{
		IssueID:     raw.ID,
		Identifier:  raw.Identifier,
		Title:       raw.Title,
		Description: raw.Description,
		Priority:    raw.Priority,
		URL:         raw.URL,
	}
	if raw.Team != nil {
		issue.TeamName = raw.Team.Name
	}
	if raw.Project != nil {
		issue.ProjectName = raw.Project.Name
	}
	if raw.State != nil {
		issue.State = raw.State.Name
	}
	if raw.Labels != nil {
		for _, node := range raw.Labels.Nodes {
			issue.Labels = append(issue.Labels, node.Name)
		}
	}
	return issue, nil
}

// PostComment creates a markdown comment on the issue. The returned bool
// mirrors the API's success flag.
func (c *Client) PostComment(ctx context.Context, issueID, body string) (bool, error) {
	if strings.TrimSpace(issueID) == "" {
		return false, errors.New("issue id is required")
	}

	var payload struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	err := c.execute(ctx, createCommentMutation, map[string]any{
		"issueId": issueID,
		"body":    body,
	}, &payload)
	if err != nil {
		return false, err
	}
	return payload.CommentCreate.Success, nil
}

// MoveToInReview finds the team's "In Review" workflow state and moves the
// issue into it. An empty team name or a team without such a state reports
// false without an error; the caller decides whether that matters.
func (c *Client) MoveToInReview(ctx context.Context, issueID, teamName string) (bool, error) {
	if strings.TrimSpace(issueID) == "" {
		return false, errors.New("issue id is required")
	}
	if strings.TrimSpace(teamName) == "" {
		return false, nil
	}

	var states struct {
		WorkflowStates struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"workflowStates"`
	}
	if err := c.execute(ctx, inReviewStateQuery, map[string]any{"teamName": teamName}, &states); err != nil {
		return false, err
	}
	if len(states.WorkflowStates.Nodes) == 0 {
		return false, nil
	}

	var payload struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	err := c.execute(ctx, updateIssueStateMutation, map[string]any{
		"issueId": issueID,
		"stateId": states.WorkflowStates.Nodes[0].ID,
	}, &payload)
	if err != nil {
		return false, err
	}
	return payload.IssueUpdate.Success, nil
}
