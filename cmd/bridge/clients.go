package main

import (
	"strings"

	"github.com/forgeworks/bridge/internal/config"
	"github.com/forgeworks/bridge/internal/forge"
	"github.com/forgeworks/bridge/internal/linear"
	"github.com/forgeworks/bridge/internal/pipeline"
)

func newForgeClient(cfg *config.Config) (*forge.Client, error) {
	return forge.New(forge.Config{
		BaseURL:        cfg.ForgeAPIURL,
		Token:          cfg.ForgeAPIToken,
		RequestTimeout: cfg.RequestTimeout,
		ExecTimeout:    cfg.ExecTimeout,
		PollInterval:   cfg.PollInterval,
	})
}

// newIssueTracker returns the live tracker client, or the recording stub
// when no API key is configured. The second return reports stub mode.
func newIssueTracker(cfg *config.Config) (pipeline.IssueTracker, bool, error) {
	if strings.TrimSpace(cfg.LinearAPIKey) == "" {
		return linear.NewStub(), true, nil
	}
	client, err := linear.New(linear.Config{APIKey: cfg.LinearAPIKey})
	if err != nil {
		return nil, false, err
	}
	return client, false, nil
}
