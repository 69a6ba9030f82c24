// Package doctor runs the preflight checks behind the doctor command:
// configuration, credentials, control plane reachability, and repo
// mapping, reported as one deterministic table.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/forgeworks/bridge/internal/config"
	"github.com/forgeworks/bridge/internal/events"
	"github.com/forgeworks/bridge/internal/forge"
	"github.com/forgeworks/bridge/internal/repomap"
)

// Check statuses, ordered healthy to broken.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// Check is one preflight probe result.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Report aggregates all preflight checks in a fixed order.
type Report struct {
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy reports whether no check failed. Warnings do not count against
// health.
func (r Report) Healthy() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return false
		}
	}
	return true
}

// AgentLister is the control plane surface the reachability checks probe.
type AgentLister interface {
	ListAgents(ctx context.Context, name string) ([]forge.Agent, error)
}

// MappingLoader loads the repository mapping.
type MappingLoader func() (*repomap.Mapping, error)

// EventBus publishes the health report for observers.
type EventBus interface {
	Publish(event events.Event)
}

// Runner executes the preflight checks.
type Runner struct {
	cfg         *config.Config
	agents      AgentLister
	loadMapping MappingLoader
	bus         EventBus
	configPaths []string
	now         func() time.Time
}

// NewRunner builds a preflight runner. The agent lister may be nil when
// credentials are missing; the affected checks then fail with that
// explanation. The bus is optional.
func NewRunner(cfg *config.Config, agents AgentLister, loadMapping MappingLoader, bus EventBus) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if loadMapping == nil {
		return nil, errors.New("mapping loader is required")
	}

	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:         cfg,
		agents:      agents,
		loadMapping: loadMapping,
		bus:         bus,
		configPaths: paths,
		now:         time.Now,
	}, nil
}

// Run executes every check and publishes the report when a bus is wired.
func (r *Runner) Run(ctx context.Context) Report {
	report := Report{
		CheckedAt: r.now().UTC(),
		Checks: []Check{
			r.checkConfigFile(),
			r.checkForgeCredentials(),
			r.checkForgeAPI(ctx),
			r.checkPipelineAgent(ctx),
			r.checkLinearKey(),
			r.checkRepoMapping(),
		},
	}

	if r.bus != nil {
		severity := events.SeverityInfo
		if !report.Healthy() {
			severity = events.SeverityError
		}
		r.bus.Publish(events.Event{
			Type:       events.EventTypeHealthCheck,
			Timestamp:  report.CheckedAt,
			EntityType: "health",
			EntityID:   "doctor",
			Payload:    report,
			Severity:   severity,
		})
	}

	return report
}

func (r *Runner) checkConfigFile() Check {
	check := Check{Name: "config file"}

	found := []string{}
	for _, path := range r.configPaths {
		if fileExists(path) {
			found = append(found, path)
		}
	}
	if len(found) == 0 {
		check.Status = StatusWarn
		check.Detail = fmt.Sprintf("no config file (looked in %s)", strings.Join(r.configPaths, ", "))
		return check
	}
	check.Status = StatusOK
	check.Detail = strings.Join(found, ", ")
	return check
}

func (r *Runner) checkForgeCredentials() Check {
	check := Check{Name: "forge credentials"}

	missing := []string{}
	if r.cfg.ForgeAPIURL == "" {
		missing = append(missing, config.EnvForgeAPIURL)
	}
	if r.cfg.ForgeAPIToken == "" {
		missing = append(missing, config.EnvForgeAPIToken)
	}
	if len(missing) > 0 {
		check.Status = StatusFail
		check.Detail = "missing " + strings.Join(missing, ", ")
		return check
	}
	check.Status = StatusOK
	check.Detail = "api url and token set"
	return check
}

func (r *Runner) checkForgeAPI(ctx context.Context) Check {
	check := Check{Name: "forge api"}

	if r.agents == nil {
		check.Status = StatusFail
		check.Detail = "skipped: forge credentials not set"
		return check
	}
	agents, err := r.agents.ListAgents(ctx, "")
	if err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
		return check
	}
	check.Status = StatusOK
	check.Detail = fmt.Sprintf("reachable, %d agents", len(agents))
	return check
}

func (r *Runner) checkPipelineAgent(ctx context.Context) Check {
	check := Check{Name: "pipeline agent"}

	agentName := strings.TrimSpace(r.cfg.Agent)
	if agentName == "" {
		check.Status = StatusWarn
		check.Detail = "no agent configured; pass --agent or set agent in config"
		return check
	}
	if r.agents == nil {
		check.Status = StatusFail
		check.Detail = "skipped: forge credentials not set"
		return check
	}
	agents, err := r.agents.ListAgents(ctx, agentName)
	if err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
		return check
	}
	if len(agents) == 0 {
		check.Status = StatusFail
		check.Detail = fmt.Sprintf("no agent named %q", agentName)
		return check
	}
	check.Status = StatusOK
	check.Detail = fmt.Sprintf("%s (%s)", agentName, agents[0].ID)
	return check
}

func (r *Runner) checkLinearKey() Check {
	check := Check{Name: "linear api key"}

	if r.cfg.LinearAPIKey == "" {
		check.Status = StatusWarn
		check.Detail = fmt.Sprintf("%s not set; issue tracker runs in stub mode", config.EnvLinearAPIKey)
		return check
	}
	check.Status = StatusOK
	check.Detail = "api key set"
	return check
}

func (r *Runner) checkRepoMapping() Check {
	check := Check{Name: "repo mapping"}

	mapping, err := r.loadMapping()
	if err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
		return check
	}
	if mapping == nil {
		check.Status = StatusFail
		check.Detail = "mapping loader returned no mapping"
		return check
	}
	if mapping.Default == nil {
		check.Status = StatusWarn
		check.Detail = "no global default repository; unmapped issues will fail selection"
		return check
	}
	check.Status = StatusOK
	check.Detail = fmt.Sprintf("default %s/%s", mapping.Default.Owner, mapping.Default.RepoName)
	return check
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
