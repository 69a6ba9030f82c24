package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgeworks/bridge/internal/config"
	"github.com/forgeworks/bridge/internal/events"
	"github.com/forgeworks/bridge/internal/forge"
	"github.com/forgeworks/bridge/internal/repomap"
)

type fakeAgentLister struct {
	agents  []forge.Agent
	err     error
	queries []string
}

func (f *fakeAgentLister) ListAgents(_ context.Context, name string) ([]forge.Agent, error) {
	f.queries = append(f.queries, name)
	if f.err != nil {
		return nil, f.err
	}
	if name == "" {
		return f.agents, nil
	}
	matched := []forge.Agent{}
	for _, agent := range f.agents {
		if agent.Name == name {
			matched = append(matched, agent)
		}
	}
	return matched, nil
}

type fakeEventBus struct {
	published []events.Event
}

func (f *fakeEventBus) Publish(event events.Event) {
	f.published = append(f.published, event)
}

func newRunnerForTest(t *testing.T, cfg *config.Config, agents AgentLister, mapping *repomap.Mapping, mappingErr error, bus EventBus) *Runner {
	t.Helper()

	runner, err := NewRunner(cfg, agents, func() (*repomap.Mapping, error) {
		return mapping, mappingErr
	}, bus)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	runner.now = func() time.Time {
		return time.Date(2026, 2, 11, 8, 30, 0, 0, time.UTC)
	}
	return runner
}

func findCheck(t *testing.T, report Report, name string) Check {
	t.Helper()

	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q not in report %+v", name, report.Checks)
	return Check{}
}

func healthyConfig() *config.Config {
	return &config.Config{
		ForgeAPIURL:   "https://forge.example",
		ForgeAPIToken: "token",
		LinearAPIKey:  "lin_api_key",
		Agent:         "pipeline-agent",
	}
}

func TestRunReportsAllHealthy(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("agent = \"pipeline-agent\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	lister := &fakeAgentLister{agents: []forge.Agent{
		{ID: "agent-1", Name: "pipeline-agent"},
		{ID: "agent-2", Name: "other"},
	}}
	mapping := &repomap.Mapping{Default: &repomap.Target{
		Owner:    "forgeworks",
		RepoName: "platform",
		RepoURL:  "https://github.com/forgeworks/platform",
	}}
	bus := &fakeEventBus{}

	runner := newRunnerForTest(t, healthyConfig(), lister, mapping, nil, bus)
	runner.configPaths = []string{configPath}

	report := runner.Run(context.Background())

	if !report.Healthy() {
		t.Fatalf("report unhealthy: %+v", report.Checks)
	}
	if len(report.Checks) != 6 {
		t.Fatalf("checks = %d, want 6", len(report.Checks))
	}
	for _, check := range report.Checks {
		if check.Status != StatusOK {
			t.Fatalf("check %s = %s (%s), want ok", check.Name, check.Status, check.Detail)
		}
	}

	apiCheck := findCheck(t, report, "forge api")
	if !strings.Contains(apiCheck.Detail, "2 agents") {
		t.Fatalf("forge api detail = %q, want agent count", apiCheck.Detail)
	}
	agentCheck := findCheck(t, report, "pipeline agent")
	if !strings.Contains(agentCheck.Detail, "agent-1") {
		t.Fatalf("pipeline agent detail = %q, want resolved id", agentCheck.Detail)
	}

	if len(bus.published) != 1 {
		t.Fatalf("published events = %d, want 1", len(bus.published))
	}
	event := bus.published[0]
	if event.Type != events.EventTypeHealthCheck {
		t.Fatalf("event type = %s, want %s", event.Type, events.EventTypeHealthCheck)
	}
	if event.Severity != events.SeverityInfo {
		t.Fatalf("event severity = %s, want info", event.Severity)
	}
	if event.EntityID != "doctor" {
		t.Fatalf("event entity = %s, want doctor", event.EntityID)
	}
}

func TestRunFailsWhenForgeUnreachable(t *testing.T) {
	t.Parallel()

	lister := &fakeAgentLister{err: errors.New("dial tcp: connection refused")}
	mapping := &repomap.Mapping{Default: &repomap.Target{Owner: "o", RepoName: "r", RepoURL: "u"}}
	bus := &fakeEventBus{}

	runner := newRunnerForTest(t, healthyConfig(), lister, mapping, nil, bus)
	runner.configPaths = []string{}

	report := runner.Run(context.Background())

	if report.Healthy() {
		t.Fatal("report healthy, want failure")
	}
	apiCheck := findCheck(t, report, "forge api")
	if apiCheck.Status != StatusFail {
		t.Fatalf("forge api = %s, want fail", apiCheck.Status)
	}
	if !strings.Contains(apiCheck.Detail, "connection refused") {
		t.Fatalf("forge api detail = %q, want dial error", apiCheck.Detail)
	}
	if bus.published[0].Severity != events.SeverityError {
		t.Fatalf("event severity = %s, want error", bus.published[0].Severity)
	}
}

func TestRunWithoutForgeCredentials(t *testing.T) {
	t.Parallel()

	cfg := healthyConfig()
	cfg.ForgeAPIURL = ""
	cfg.ForgeAPIToken = ""
	mapping := &repomap.Mapping{Default: &repomap.Target{Owner: "o", RepoName: "r", RepoURL: "u"}}

	runner := newRunnerForTest(t, cfg, nil, mapping, nil, nil)
	runner.configPaths = []string{}

	report := runner.Run(context.Background())

	credCheck := findCheck(t, report, "forge credentials")
	if credCheck.Status != StatusFail {
		t.Fatalf("credentials = %s, want fail", credCheck.Status)
	}
	if !strings.Contains(credCheck.Detail, config.EnvForgeAPIURL) || !strings.Contains(credCheck.Detail, config.EnvForgeAPIToken) {
		t.Fatalf("credentials detail = %q, want both env vars named", credCheck.Detail)
	}
	for _, name := range []string{"forge api", "pipeline agent"} {
		check := findCheck(t, report, name)
		if check.Status != StatusFail {
			t.Fatalf("%s = %s, want fail without credentials", name, check.Status)
		}
		if !strings.Contains(check.Detail, "credentials") {
			t.Fatalf("%s detail = %q, want skip explanation", name, check.Detail)
		}
	}
}

func TestRunWarnsAreNotFailures(t *testing.T) {
	t.Parallel()

	cfg := healthyConfig()
	cfg.LinearAPIKey = ""
	cfg.Agent = ""
	lister := &fakeAgentLister{agents: []forge.Agent{{ID: "agent-1", Name: "x"}}}

	runner := newRunnerForTest(t, cfg, lister, &repomap.Mapping{}, nil, nil)
	runner.configPaths = []string{filepath.Join(t.TempDir(), "missing.toml")}

	report := runner.Run(context.Background())

	if !report.Healthy() {
		t.Fatalf("report unhealthy with warnings only: %+v", report.Checks)
	}
	for _, name := range []string{"config file", "pipeline agent", "linear api key", "repo mapping"} {
		check := findCheck(t, report, name)
		if check.Status != StatusWarn {
			t.Fatalf("%s = %s, want warn", name, check.Status)
		}
	}
	linearCheck := findCheck(t, report, "linear api key")
	if !strings.Contains(linearCheck.Detail, "stub mode") {
		t.Fatalf("linear detail = %q, want stub mode named", linearCheck.Detail)
	}
}

func TestRunFailsWhenAgentMissingOrMappingBroken(t *testing.T) {
	t.Parallel()

	lister := &fakeAgentLister{agents: []forge.Agent{{ID: "agent-2", Name: "other"}}}
	mappingErr := errors.New("decode mapping file: bare keys cannot contain newlines")

	runner := newRunnerForTest(t, healthyConfig(), lister, nil, mappingErr, nil)
	runner.configPaths = []string{}

	report := runner.Run(context.Background())

	agentCheck := findCheck(t, report, "pipeline agent")
	if agentCheck.Status != StatusFail {
		t.Fatalf("pipeline agent = %s, want fail", agentCheck.Status)
	}
	if !strings.Contains(agentCheck.Detail, "pipeline-agent") {
		t.Fatalf("pipeline agent detail = %q, want name quoted", agentCheck.Detail)
	}
	mappingCheck := findCheck(t, report, "repo mapping")
	if mappingCheck.Status != StatusFail {
		t.Fatalf("repo mapping = %s, want fail", mappingCheck.Status)
	}
	if !strings.Contains(mappingCheck.Detail, "decode mapping file") {
		t.Fatalf("repo mapping detail = %q, want load error", mappingCheck.Detail)
	}
}

func TestNewRunnerValidatesInputs(t *testing.T) {
	t.Parallel()

	loader := func() (*repomap.Mapping, error) { return &repomap.Mapping{}, nil }

	if _, err := NewRunner(nil, nil, loader, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewRunner(&config.Config{}, nil, nil, nil); err == nil {
		t.Fatal("expected error for nil mapping loader")
	}
}
