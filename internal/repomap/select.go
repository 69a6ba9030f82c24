package repomap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/forgeworks/bridge/internal/linear"
)

// NoMappingError reports that no override chain entry matched the issue.
type NoMappingError struct {
	Identifier string
	ProjectKey string
	Team       string
	Labels     []string
}

func (e *NoMappingError) Error() string {
	return fmt.Sprintf("no repository mapping for issue %s (project=%s, team=%s, labels=%v)",
		e.Identifier, e.ProjectKey, e.Team, e.Labels)
}

// Is enables errors.Is checks against any NoMappingError.
func (e *NoMappingError) Is(target error) bool {
	_, ok := target.(*NoMappingError)
	return ok
}

// Select resolves the repository target for an issue. The project key is
// the identifier prefix before the first dash. Resolution order: the first
// issue label carrying a label override, then a team override, then the
// project default, then the global default. The winning target's branch
// falls back to "main".
func (m *Mapping) Select(issue *linear.Issue) (*Target, error) {
	if issue == nil {
		return nil, errors.New("issue is required")
	}

	projectKey := ""
	if prefix, _, found := strings.Cut(issue.Identifier, "-"); found {
		projectKey = prefix
	}
	project := m.Projects[projectKey]

	var selected *Target
	for _, label := range issue.Labels {
		if target, ok := project.LabelOverrides[strings.ToLower(label)]; ok {
			selected = &target
			break
		}
	}
	if selected == nil && issue.TeamName != "" {
		if target, ok := project.TeamOverrides[issue.TeamName]; ok {
			selected = &target
		}
	}
	if selected == nil && project.Default != nil {
		target := *project.Default
		selected = &target
	}
	if selected == nil && m.Default != nil {
		target := *m.Default
		selected = &target
	}
	if selected == nil {
		return nil, &NoMappingError{
			Identifier: issue.Identifier,
			ProjectKey: projectKey,
			Team:       issue.TeamName,
			Labels:     issue.Labels,
		}
	}

	if selected.Branch == "" {
		selected.Branch = "main"
	}
	return selected, nil
}
