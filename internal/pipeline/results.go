package pipeline

import (
	"time"

	"github.com/forgeworks/bridge/internal/artifact"
	"github.com/forgeworks/bridge/internal/linear"
	"github.com/forgeworks/bridge/internal/repomap"
)

const (
	// DecisionProceed means the specification review judged the issue
	// complete enough to implement.
	DecisionProceed = "proceed"
	// DecisionNeedsClarification means the review wants answers from a
	// human before implementation starts.
	DecisionNeedsClarification = "needs_clarification"
)

const (
	// OutcomeCompleted marks a run that finished every step.
	OutcomeCompleted = "completed"
	// OutcomeFailed marks a run aborted by a step error.
	OutcomeFailed = "failed"
	// OutcomeClarification marks a run halted to wait for human answers.
	OutcomeClarification = "clarification"
)

// InvestigateResult is the artifact a session writes after investigating the
// issue's root cause.
type InvestigateResult struct {
	SessionID     string   `json:"session_id"`
	RootCause     string   `json:"root_cause"`
	AffectedFiles []string `json:"affected_files"`
	Summary       string   `json:"summary"`
}

// SpecReviewResult is the artifact scoring the issue's readiness for
// implementation. Decision is "proceed" or "needs_clarification".
type SpecReviewResult struct {
	SessionID string   `json:"session_id"`
	Score     int      `json:"score"`
	Decision  string   `json:"decision"`
	Questions []string `json:"questions"`
	Summary   string   `json:"summary"`
}

// DesignResult is the artifact describing the chosen implementation
// approach.
type DesignResult struct {
	SessionID     string   `json:"session_id"`
	Approach      string   `json:"approach"`
	BranchName    string   `json:"branch_name"`
	FilesToModify []string `json:"files_to_modify"`
	Plan          string   `json:"plan"`
}

// ImplementResult is the artifact written after the session pushed a branch
// and opened a pull request.
type ImplementResult struct {
	SessionID    string   `json:"session_id"`
	PRURL        string   `json:"pr_url"`
	PRNumber     int      `json:"pr_number"`
	PRTitle      string   `json:"pr_title"`
	BranchName   string   `json:"branch_name"`
	FilesChanged []string `json:"files_changed"`
}

// TrackerUpdateResult records what the write-back step managed to do. Both
// flags mirror the tracker API's success booleans.
type TrackerUpdateResult struct {
	CommentPosted bool `json:"comment_posted"`
	StateUpdated  bool `json:"state_updated"`
}

// RunResult is everything one pipeline run produced. Pointers stay nil for
// steps that never ran.
type RunResult struct {
	RunID          string               `json:"run_id"`
	Identifier     string               `json:"identifier"`
	Outcome        string               `json:"outcome"`
	SessionID      string               `json:"session_id,omitempty"`
	Issue          *linear.Issue        `json:"issue,omitempty"`
	Repo           *repomap.Target      `json:"repo,omitempty"`
	Investigation  *InvestigateResult   `json:"investigation,omitempty"`
	SpecReview     *SpecReviewResult    `json:"spec_review,omitempty"`
	Design         *DesignResult        `json:"design,omitempty"`
	Implementation *ImplementResult     `json:"implementation,omitempty"`
	TrackerUpdate  *TrackerUpdateResult `json:"tracker_update,omitempty"`
	FinishError    string               `json:"finish_error,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
}

// Validated output schemas for the session-written artifacts. The field a
// later step cannot work without is required; descriptive fields decode to
// zero values when the session omits them.
var (
	investigateSchema = artifact.Schema{
		{Name: "root_cause", Kind: artifact.KindString, Required: true},
		{Name: "affected_files", Kind: artifact.KindArray},
		{Name: "summary", Kind: artifact.KindString},
	}

	reviewSchema = artifact.Schema{
		{Name: "score", Kind: artifact.KindNumber, Required: true},
		{Name: "decision", Kind: artifact.KindString, Required: true},
		{Name: "questions", Kind: artifact.KindArray},
		{Name: "summary", Kind: artifact.KindString},
	}

	designSchema = artifact.Schema{
		{Name: "approach", Kind: artifact.KindString, Required: true},
		{Name: "branch_name", Kind: artifact.KindString, Required: true},
		{Name: "files_to_modify", Kind: artifact.KindArray},
		{Name: "plan", Kind: artifact.KindString},
	}

	implementSchema = artifact.Schema{
		{Name: "pr_url", Kind: artifact.KindString, Required: true},
		{Name: "pr_number", Kind: artifact.KindNumber},
		{Name: "pr_title", Kind: artifact.KindString},
		{Name: "branch_name", Kind: artifact.KindString},
		{Name: "files_changed", Kind: artifact.KindArray},
	}
)
