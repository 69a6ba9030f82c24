// Package pipeline drives one tracker issue from fetch to pull request.
// A run fetches the issue, resolves its repository, then walks a single
// remote session through investigation, specification review, design, and
// implementation before writing the outcome back to the tracker. Every
// lifecycle event lands in the run journal; the runner owns step ordering
// while polling and retry behavior stay with the forge client and the
// artifact collector.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/bridge/internal/artifact"
	"github.com/forgeworks/bridge/internal/events"
	"github.com/forgeworks/bridge/internal/forge"
	"github.com/forgeworks/bridge/internal/journal"
	"github.com/forgeworks/bridge/internal/linear"
	"github.com/forgeworks/bridge/internal/repomap"
	"github.com/forgeworks/bridge/internal/telemetry/invariants"
)

// DefaultSessionWait bounds how long a fresh session may take to reach
// running before the run aborts.
const DefaultSessionWait = 10 * time.Minute

const (
	// FinishPolicyBestEffort records a session finish failure on the run
	// result and keeps going.
	FinishPolicyBestEffort = "best_effort"
	// FinishPolicyStrict fails the implement step when the session cannot
	// be finished.
	FinishPolicyStrict = "strict"
)

// Step names as they appear in journal entries and progress events.
const (
	StepFetchIssue    = "fetch_issue"
	StepSelectRepo    = "select_repo"
	StepInvestigate   = "investigate"
	StepReviewSpec    = "review_spec"
	StepDesign        = "design"
	StepImplement     = "implement"
	StepUpdateTracker = "update_tracker"
)

// SessionClient is the forge surface the runner drives sessions with. The
// embedded driver methods feed the artifact collector.
type SessionClient interface {
	ListAgents(ctx context.Context, name string) ([]forge.Agent, error)
	CreateSession(ctx context.Context, agentID string, opts forge.CreateSessionOptions) (*forge.Session, error)
	WaitForSessionState(ctx context.Context, sessionID string, targets []forge.SessionState, opts forge.WaitOptions) (*forge.Session, error)
	Finish(ctx context.Context, sessionID string) error
	artifact.SessionDriver
}

// IssueTracker is the tracker surface the pipeline reads from and writes
// back to.
type IssueTracker interface {
	FetchIssue(ctx context.Context, identifier string) (*linear.Issue, error)
	PostComment(ctx context.Context, issueID, body string) (bool, error)
	MoveToInReview(ctx context.Context, issueID, teamName string) (bool, error)
}

// RepoSelector resolves the repository an issue maps to.
type RepoSelector interface {
	Select(issue *linear.Issue) (*repomap.Target, error)
}

// LockManager serializes runs per issue.
type LockManager interface {
	Acquire(ctx context.Context, issueID, runID string) (func() error, error)
}

// RunJournal persists run lifecycle entries.
type RunJournal interface {
	Append(ctx context.Context, entry journal.Entry) (journal.Entry, error)
}

// Config tunes runner behavior.
type Config struct {
	// Agent is the forge agent name sessions are created under.
	Agent string
	// SandboxDefinition selects the sandbox image for new sessions. Empty
	// defers to the server default.
	SandboxDefinition string
	// MaxRetries bounds corrective round-trips per artifact read.
	MaxRetries int
	// SessionWait bounds the wait for a fresh session to reach running.
	SessionWait time.Duration
	// CommandWait bounds the wait for one submitted prompt to complete.
	// Zero keeps the collector default.
	CommandWait time.Duration
	// FinishPolicy is FinishPolicyBestEffort or FinishPolicyStrict.
	FinishPolicy string
	// HaltOnClarification ends the run after the review step when the
	// session asks for human answers instead of proceeding to design.
	HaltOnClarification bool
}

// Runner executes pipeline runs.
type Runner struct {
	sessions SessionClient
	tracker  IssueTracker
	repos    RepoSelector
	locks    LockManager
	journal  RunJournal
	bus      events.Bus
	cfg      Config
	newRunID func() string
	now      func() time.Time
}

// New creates a Runner with required dependencies.
func New(
	sessions SessionClient,
	tracker IssueTracker,
	repos RepoSelector,
	locks LockManager,
	runJournal RunJournal,
	bus events.Bus,
	cfg Config,
) (*Runner, error) {
	if sessions == nil {
		return nil, errors.New("session client is required")
	}
	if tracker == nil {
		return nil, errors.New("issue tracker is required")
	}
	if repos == nil {
		return nil, errors.New("repo selector is required")
	}
	if locks == nil {
		return nil, errors.New("lock manager is required")
	}
	if runJournal == nil {
		return nil, errors.New("run journal is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if strings.TrimSpace(cfg.Agent) == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.SessionWait <= 0 {
		cfg.SessionWait = DefaultSessionWait
	}
	if cfg.FinishPolicy == "" {
		cfg.FinishPolicy = FinishPolicyBestEffort
	}
	if cfg.FinishPolicy != FinishPolicyBestEffort && cfg.FinishPolicy != FinishPolicyStrict {
		return nil, fmt.Errorf("unknown finish policy %q", cfg.FinishPolicy)
	}

	return &Runner{
		sessions: sessions,
		tracker:  tracker,
		repos:    repos,
		locks:    locks,
		journal:  runJournal,
		bus:      bus,
		cfg:      cfg,
		newRunID: uuid.NewString,
		now:      time.Now,
	}, nil
}

// run is the mutable state of one pipeline execution.
type run struct {
	id        string
	result    *RunResult
	phase     Phase
	session   string
	finished  bool
	collector *artifact.Collector
}

// runBus stamps the owning run's ID onto events published without one, so
// collector events stay attributable to the run that caused them.
type runBus struct {
	inner events.Bus
	runID string
}

func (b *runBus) Subscribe(eventType string, handler events.Handler) {
	b.inner.Subscribe(eventType, handler)
}

func (b *runBus) SubscribeAll(handler events.Handler) {
	b.inner.SubscribeAll(handler)
}

func (b *runBus) Publish(event events.Event) {
	if event.RunID == "" {
		event.RunID = b.runID
	}
	b.inner.Publish(event)
}

// Run drives the identified issue through every pipeline step. The result
// is non-nil whenever a run started, including aborted runs; callers decide
// how to present partial output.
func (r *Runner) Run(ctx context.Context, identifier string) (result *RunResult, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errors.New("issue identifier must not be empty")
	}

	state := &run{
		id:    r.newRunID(),
		phase: PhasePending,
	}
	state.result = &RunResult{
		RunID:      state.id,
		Identifier: identifier,
		StartedAt:  r.now().UTC(),
	}

	collector, err := artifact.New(r.sessions,
		artifact.WithCommandWait(r.cfg.CommandWait),
		artifact.WithEventBus(&runBus{inner: r.bus, runID: state.id}),
	)
	if err != nil {
		return nil, fmt.Errorf("build artifact collector: %w", err)
	}
	state.collector = collector

	release, err := r.locks.Acquire(ctx, identifier, state.id)
	if err != nil {
		return nil, fmt.Errorf("acquire issue lock: %w", err)
	}
	defer func() {
		err = errors.Join(err, release())
	}()

	if err := r.appendJournal(ctx, state, journal.Entry{
		Type: journal.EntryTypeRunStarted,
		Payload: payloadJSON(map[string]any{
			"identifier": identifier,
			"agent":      r.cfg.Agent,
		}),
	}); err != nil {
		return nil, err
	}

	if err := r.step(ctx, state, StepFetchIssue, PhaseFetching, r.stepFetchIssue); err != nil {
		return r.failRun(ctx, state, err)
	}
	if err := r.step(ctx, state, StepSelectRepo, PhaseSelecting, r.stepSelectRepo); err != nil {
		return r.failRun(ctx, state, err)
	}
	if err := r.step(ctx, state, StepInvestigate, PhaseInvestigating, r.stepInvestigate); err != nil {
		return r.failRun(ctx, state, err)
	}
	if err := r.step(ctx, state, StepReviewSpec, PhaseReviewing, r.stepReviewSpec); err != nil {
		return r.failRun(ctx, state, err)
	}

	halted, err := r.maybeHaltForClarification(ctx, state)
	if err != nil {
		return r.failRun(ctx, state, err)
	}
	if halted {
		return state.result, nil
	}

	if err := r.step(ctx, state, StepDesign, PhaseDesigning, r.stepDesign); err != nil {
		return r.failRun(ctx, state, err)
	}
	if err := r.step(ctx, state, StepImplement, PhaseImplementing, r.stepImplement); err != nil {
		return r.failRun(ctx, state, err)
	}
	if err := r.step(ctx, state, StepUpdateTracker, PhaseUpdating, r.stepUpdateTracker); err != nil {
		return r.failRun(ctx, state, err)
	}

	if err := r.transition(ctx, state, PhaseCompleted); err != nil {
		return r.failRun(ctx, state, err)
	}
	if err := r.endRun(ctx, state, OutcomeCompleted); err != nil {
		return state.result, err
	}
	return state.result, nil
}

// stepFunc executes one pipeline step and returns the completion payload
// recorded in the journal.
type stepFunc func(ctx context.Context, state *run) (map[string]any, error)

func (r *Runner) step(ctx context.Context, state *run, name string, phase Phase, fn stepFunc) error {
	if err := r.transition(ctx, state, phase); err != nil {
		return err
	}
	if err := r.appendJournal(ctx, state, journal.Entry{
		Type: journal.EntryTypeStepStarted,
		Step: name,
	}); err != nil {
		return err
	}

	summary, err := fn(ctx, state)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return r.appendJournal(ctx, state, journal.Entry{
		Type:    journal.EntryTypeStepCompleted,
		Step:    name,
		Payload: payloadJSON(summary),
	})
}

func (r *Runner) stepFetchIssue(ctx context.Context, state *run) (map[string]any, error) {
	issue, err := r.tracker.FetchIssue(ctx, state.result.Identifier)
	if err != nil {
		return nil, err
	}
	state.result.Issue = issue

	return map[string]any{
		"issue_id": issue.IssueID,
		"title":    issue.Title,
		"team":     issue.TeamName,
	}, nil
}

func (r *Runner) stepSelectRepo(_ context.Context, state *run) (map[string]any, error) {
	target, err := r.repos.Select(state.result.Issue)
	if err != nil {
		return nil, err
	}
	state.result.Repo = target

	return map[string]any{
		"owner":     target.Owner,
		"repo_name": target.RepoName,
		"branch":    target.Branch,
	}, nil
}

func (r *Runner) stepInvestigate(ctx context.Context, state *run) (map[string]any, error) {
	agents, err := r.sessions.ListAgents(ctx, r.cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agent named %q", r.cfg.Agent)
	}

	prompt, err := BuildInvestigatePrompt(state.result.Issue, state.result.Repo)
	if err != nil {
		return nil, err
	}

	session, err := r.sessions.CreateSession(ctx, agents[0].ID, forge.CreateSessionOptions{
		InitialPrompt:       prompt,
		SandboxDefinitionID: r.cfg.SandboxDefinition,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	state.session = session.ID
	state.result.SessionID = session.ID
	if err := r.appendSessionState(ctx, state, string(session.State)); err != nil {
		return nil, err
	}

	session, err = r.sessions.WaitForSessionState(ctx, session.ID,
		[]forge.SessionState{forge.SessionStateRunning},
		forge.WaitOptions{Timeout: r.cfg.SessionWait},
	)
	if err != nil {
		return nil, fmt.Errorf("wait for session: %w", err)
	}
	if err := r.appendSessionState(ctx, state, string(session.State)); err != nil {
		return nil, err
	}

	collected, err := r.collectArtifact(ctx, state, artifact.Request{
		Path:             investigateOutputPath,
		Schema:           investigateSchema,
		CorrectivePrompt: investigateCorrective,
	})
	if err != nil {
		return nil, err
	}
	var out InvestigateResult
	if err := collected.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode investigation result: %w", err)
	}
	out.SessionID = state.session
	state.result.Investigation = &out

	return map[string]any{
		"session_id":     state.session,
		"attempts":       collected.Attempts,
		"affected_files": len(out.AffectedFiles),
	}, nil
}

func (r *Runner) stepReviewSpec(ctx context.Context, state *run) (map[string]any, error) {
	prompt, err := BuildReviewSpecPrompt()
	if err != nil {
		return nil, err
	}

	collected, err := r.collectArtifact(ctx, state, artifact.Request{
		InitialPrompt: prompt,
		Path:          reviewOutputPath,
		Schema:        reviewSchema,
	})
	if err != nil {
		return nil, err
	}
	var out SpecReviewResult
	if err := collected.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode spec review: %w", err)
	}
	out.SessionID = state.session
	out.Decision = strings.ToLower(strings.TrimSpace(out.Decision))
	state.result.SpecReview = &out

	return map[string]any{
		"score":    out.Score,
		"decision": out.Decision,
	}, nil
}

func (r *Runner) stepDesign(ctx context.Context, state *run) (map[string]any, error) {
	prompt, err := BuildDesignPrompt()
	if err != nil {
		return nil, err
	}

	collected, err := r.collectArtifact(ctx, state, artifact.Request{
		InitialPrompt: prompt,
		Path:          designOutputPath,
		Schema:        designSchema,
	})
	if err != nil {
		return nil, err
	}
	var out DesignResult
	if err := collected.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode design result: %w", err)
	}
	out.SessionID = state.session
	state.result.Design = &out

	return map[string]any{
		"branch_name": out.BranchName,
		"files":       len(out.FilesToModify),
	}, nil
}

func (r *Runner) stepImplement(ctx context.Context, state *run) (map[string]any, error) {
	prompt, err := BuildImplementPrompt(state.result.Design.BranchName)
	if err != nil {
		return nil, err
	}

	collected, err := r.collectArtifact(ctx, state, artifact.Request{
		InitialPrompt: prompt,
		Path:          implementOutputPath,
		Schema:        implementSchema,
	})
	if err != nil {
		return nil, err
	}
	var out ImplementResult
	if err := collected.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode implementation result: %w", err)
	}
	out.SessionID = state.session
	state.result.Implementation = &out

	if err := r.finishSession(ctx, state); err != nil && r.cfg.FinishPolicy == FinishPolicyStrict {
		return nil, err
	}

	return map[string]any{
		"pr_url":        out.PRURL,
		"branch_name":   out.BranchName,
		"files_changed": len(out.FilesChanged),
	}, nil
}

func (r *Runner) stepUpdateTracker(ctx context.Context, state *run) (map[string]any, error) {
	issue := state.result.Issue
	update := &TrackerUpdateResult{}
	state.result.TrackerUpdate = update

	posted, err := r.tracker.PostComment(ctx, issue.IssueID, prComment(state.result.Implementation))
	if err != nil && !errors.Is(err, &linear.GraphQLError{}) {
		return nil, fmt.Errorf("post comment: %w", err)
	}
	update.CommentPosted = posted

	moved, err := r.tracker.MoveToInReview(ctx, issue.IssueID, issue.TeamName)
	if err != nil && !errors.Is(err, &linear.GraphQLError{}) {
		return nil, fmt.Errorf("move issue to in review: %w", err)
	}
	update.StateUpdated = moved

	return map[string]any{
		"comment_posted": update.CommentPosted,
		"state_updated":  update.StateUpdated,
	}, nil
}

// maybeHaltForClarification ends the run early when the review decided the
// specification is not ready and the runner is configured to stop. The
// session is finished best-effort; the questions go back to the tracker so
// a human can answer them.
func (r *Runner) maybeHaltForClarification(ctx context.Context, state *run) (bool, error) {
	review := state.result.SpecReview
	if review == nil || review.Decision != DecisionNeedsClarification {
		return false, nil
	}
	if !r.cfg.HaltOnClarification {
		return false, nil
	}

	body := clarificationComment(review)
	if _, err := r.tracker.PostComment(ctx, state.result.Issue.IssueID, body); err != nil {
		if !errors.Is(err, &linear.GraphQLError{}) {
			return false, fmt.Errorf("post clarification comment: %w", err)
		}
	}
	_ = r.finishSession(ctx, state)

	if err := r.transition(ctx, state, PhaseClarification); err != nil {
		return false, err
	}
	if err := r.endRun(ctx, state, OutcomeClarification); err != nil {
		return true, err
	}
	return true, nil
}

func (r *Runner) transition(ctx context.Context, state *run, to Phase) error {
	legal := CanTransition(state.phase, to)
	invariants.CheckPhaseTransitionLegal(ctx, "pipeline.Runner.transition", string(state.phase), string(to), legal)
	if !legal {
		return &PhaseTransitionError{RunID: state.id, From: state.phase, To: to}
	}
	state.phase = to
	return nil
}

// collectArtifact runs the validated output loop for the current session.
func (r *Runner) collectArtifact(ctx context.Context, state *run, req artifact.Request) (*artifact.Result, error) {
	if !invariants.CheckNoWorkAfterFinish(ctx, "pipeline.Runner.collectArtifact", state.session, state.finished) {
		return nil, fmt.Errorf("session %s is already finished", state.session)
	}
	req.MaxRetries = r.cfg.MaxRetries
	return state.collector.Collect(ctx, state.session, req)
}

// finishSession finishes the run's session exactly once. Failures are
// recorded on the result regardless of finish policy; the caller decides
// whether they abort the run.
func (r *Runner) finishSession(ctx context.Context, state *run) error {
	if state.session == "" || state.finished {
		return nil
	}
	if err := r.sessions.Finish(ctx, state.session); err != nil {
		state.result.FinishError = err.Error()
		return fmt.Errorf("finish session %s: %w", state.session, err)
	}
	state.finished = true
	return r.appendSessionState(ctx, state, string(forge.SessionStateFinished))
}

func (r *Runner) failRun(ctx context.Context, state *run, runErr error) (*RunResult, error) {
	if !state.phase.IsTerminal() {
		if terr := r.transition(ctx, state, PhaseFailed); terr != nil {
			runErr = errors.Join(runErr, terr)
		}
	}
	state.result.Outcome = OutcomeFailed
	state.result.FinishedAt = r.now().UTC()

	if jerr := r.appendJournal(ctx, state, journal.Entry{
		Type: journal.EntryTypeRunFinished,
		Payload: payloadJSON(map[string]any{
			"outcome": OutcomeFailed,
			"error":   runErr.Error(),
		}),
	}); jerr != nil {
		runErr = errors.Join(runErr, jerr)
	}
	return state.result, runErr
}

func (r *Runner) endRun(ctx context.Context, state *run, outcome string) error {
	state.result.Outcome = outcome
	state.result.FinishedAt = r.now().UTC()

	payload := map[string]any{"outcome": outcome}
	if state.result.FinishError != "" {
		payload["finish_error"] = state.result.FinishError
	}
	return r.appendJournal(ctx, state, journal.Entry{
		Type:    journal.EntryTypeRunFinished,
		Payload: payloadJSON(payload),
	})
}

func (r *Runner) appendJournal(ctx context.Context, state *run, entry journal.Entry) error {
	entry.RunID = state.id
	entry.IssueID = state.result.Identifier
	if entry.SessionID == "" {
		entry.SessionID = state.session
	}
	_, err := r.journal.Append(ctx, entry)
	return err
}

func (r *Runner) appendSessionState(ctx context.Context, state *run, sessionState string) error {
	return r.appendJournal(ctx, state, journal.Entry{
		Type:    journal.EntryTypeSessionState,
		Payload: payloadJSON(map[string]any{"state": sessionState}),
	})
}

func payloadJSON(fields map[string]any) json.RawMessage {
	raw, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func prComment(impl *ImplementResult) string {
	filesList := "N/A"
	if len(impl.FilesChanged) > 0 {
		lines := make([]string, 0, len(impl.FilesChanged))
		for _, file := range impl.FilesChanged {
			lines = append(lines, fmt.Sprintf("- `%s`", file))
		}
		filesList = strings.Join(lines, "\n")
	}

	var body strings.Builder
	body.WriteString("**Pull Request Created**\n\n")
	fmt.Fprintf(&body, "**PR:** [%s](%s)\n", impl.PRTitle, impl.PRURL)
	fmt.Fprintf(&body, "**Branch:** `%s`\n\n", impl.BranchName)
	fmt.Fprintf(&body, "**Files Changed:**\n%s\n\n", filesList)
	body.WriteString("_Automated by linear-to-pr pipeline_")
	return body.String()
}

func clarificationComment(review *SpecReviewResult) string {
	var body strings.Builder
	body.WriteString("**Specification Needs Clarification**\n\n")
	fmt.Fprintf(&body, "**Readiness score:** %d/100\n\n", review.Score)
	if len(review.Questions) > 0 {
		body.WriteString("**Open questions:**\n")
		for i, question := range review.Questions {
			fmt.Fprintf(&body, "%d. %s\n", i+1, question)
		}
		body.WriteString("\n")
	}
	if review.Summary != "" {
		fmt.Fprintf(&body, "%s\n\n", review.Summary)
	}
	body.WriteString("_Automated by linear-to-pr pipeline_")
	return body.String()
}
