package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultExecTimeout     = 5 * time.Minute
	defaultPollInterval    = 3 * time.Second
	defaultSessionWait     = 10 * time.Minute
	defaultCommandWait     = 10 * time.Minute
	defaultMaxRetries      = 2
	defaultLogLevel        = "info"
	defaultLogMaxSizeBytes = 10 * 1024 * 1024
	defaultLogMaxFiles     = 5
)

// Finish policies accepted for finish_policy.
const (
	FinishPolicyBestEffort = "best_effort"
	FinishPolicyStrict     = "strict"
)

// Environment variables read by Load's env adapter. They take precedence
// over values from config files; no other package reads them.
const (
	EnvForgeAPIURL   = "FORGE_API_URL"
	EnvForgeAPIToken = "FORGE_API_TOKEN"
	EnvLinearAPIKey  = "LINEAR_API_KEY"
)

// Config stores runtime settings loaded from TOML files and the environment.
type Config struct {
	ForgeAPIURL         string
	ForgeAPIToken       string
	LinearAPIKey        string
	Agent               string
	SandboxDefinition   string
	RequestTimeout      time.Duration
	ExecTimeout         time.Duration
	PollInterval        time.Duration
	SessionWait         time.Duration
	CommandWait         time.Duration
	MaxRetries          int
	FinishPolicy        string
	HaltOnClarification bool
	LogLevel            string
	LogMaxSizeBytes     int64
	LogMaxFiles         int
}

type fileConfig struct {
	ForgeAPIURL         *string      `toml:"forge_api_url"`
	ForgeAPIToken       *string      `toml:"forge_api_token"`
	Forge               *forgeConfig `toml:"forge"`
	LinearAPIKey        *string      `toml:"linear_api_key"`
	Agent               *string      `toml:"agent"`
	SandboxDefinition   *string      `toml:"sandbox_definition"`
	RequestTimeout      *string      `toml:"request_timeout"`
	ExecTimeout         *string      `toml:"exec_timeout"`
	PollInterval        *string      `toml:"poll_interval"`
	SessionWait         *string      `toml:"session_wait"`
	CommandWait         *string      `toml:"command_wait"`
	MaxRetries          *int         `toml:"max_retries"`
	FinishPolicy        *string      `toml:"finish_policy"`
	HaltOnClarification *bool        `toml:"halt_on_clarification"`
	LogLevel            *string      `toml:"log_level"`
	LogMaxSizeMB        *int         `toml:"log_max_size_mb"`
	LogMaxFiles         *int         `toml:"log_max_files"`
}

type forgeConfig struct {
	APIURL   *string `toml:"api_url"`
	APIToken *string `toml:"api_token"`
}

// DefaultPaths returns the config files Load consults, lowest precedence
// first.
func DefaultPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	return []string{
		filepath.Join(homeDir, ".bridge", "config.toml"),
		filepath.Join(workingDir, ".bridge", "config.toml"),
	}, nil
}

// Load reads config from ~/.bridge/config.toml, overlays a project-local
// .bridge/config.toml, then applies the environment adapter. Returned
// warnings name file values the environment overrode.
func Load(ctx context.Context) (*Config, []string, error) {
	cfg := defaults()

	paths, err := DefaultPaths()
	if err != nil {
		return nil, nil, err
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, nil, err
		}
	}

	warnings := applyEnvOverrides(&cfg)

	_ = ctx
	return &cfg, warnings, nil
}

func defaults() Config {
	return Config{
		RequestTimeout:  defaultRequestTimeout,
		ExecTimeout:     defaultExecTimeout,
		PollInterval:    defaultPollInterval,
		SessionWait:     defaultSessionWait,
		CommandWait:     defaultCommandWait,
		MaxRetries:      defaultMaxRetries,
		FinishPolicy:    FinishPolicyBestEffort,
		LogLevel:        defaultLogLevel,
		LogMaxSizeBytes: defaultLogMaxSizeBytes,
		LogMaxFiles:     defaultLogMaxFiles,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyCredentialOverrides(cfg, decoded)
	if err := applyScalarOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyLogOverrides(cfg, decoded, path); err != nil {
		return err
	}

	return nil
}

func applyCredentialOverrides(cfg *Config, decoded fileConfig) {
	if decoded.ForgeAPIURL != nil {
		cfg.ForgeAPIURL = strings.TrimSpace(*decoded.ForgeAPIURL)
	}
	if decoded.ForgeAPIToken != nil {
		cfg.ForgeAPIToken = strings.TrimSpace(*decoded.ForgeAPIToken)
	}
	if decoded.Forge != nil {
		if decoded.Forge.APIURL != nil {
			cfg.ForgeAPIURL = strings.TrimSpace(*decoded.Forge.APIURL)
		}
		if decoded.Forge.APIToken != nil {
			cfg.ForgeAPIToken = strings.TrimSpace(*decoded.Forge.APIToken)
		}
	}
	if decoded.LinearAPIKey != nil {
		cfg.LinearAPIKey = strings.TrimSpace(*decoded.LinearAPIKey)
	}
}

func applyScalarOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.Agent != nil {
		cfg.Agent = strings.TrimSpace(*decoded.Agent)
	}
	if decoded.SandboxDefinition != nil {
		cfg.SandboxDefinition = strings.TrimSpace(*decoded.SandboxDefinition)
	}
	if decoded.MaxRetries != nil {
		if *decoded.MaxRetries < 0 {
			return fmt.Errorf("parse max_retries in %q: must be >= 0", path)
		}
		cfg.MaxRetries = *decoded.MaxRetries
	}
	if decoded.FinishPolicy != nil {
		policy := normalizeKey(*decoded.FinishPolicy)
		if policy != FinishPolicyBestEffort && policy != FinishPolicyStrict {
			return fmt.Errorf("parse finish_policy in %q: must be %q or %q", path, FinishPolicyBestEffort, FinishPolicyStrict)
		}
		cfg.FinishPolicy = policy
	}
	if decoded.HaltOnClarification != nil {
		cfg.HaltOnClarification = *decoded.HaltOnClarification
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = normalizeKey(*decoded.LogLevel)
	}
	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.RequestTimeout != nil {
		value, err := parseDuration(*decoded.RequestTimeout, "request_timeout", path)
		if err != nil {
			return err
		}
		cfg.RequestTimeout = value
	}
	if decoded.ExecTimeout != nil {
		value, err := parseDuration(*decoded.ExecTimeout, "exec_timeout", path)
		if err != nil {
			return err
		}
		cfg.ExecTimeout = value
	}
	if decoded.PollInterval != nil {
		value, err := parseDuration(*decoded.PollInterval, "poll_interval", path)
		if err != nil {
			return err
		}
		cfg.PollInterval = value
	}
	if decoded.SessionWait != nil {
		value, err := parseDuration(*decoded.SessionWait, "session_wait", path)
		if err != nil {
			return err
		}
		cfg.SessionWait = value
	}
	if decoded.CommandWait != nil {
		value, err := parseDuration(*decoded.CommandWait, "command_wait", path)
		if err != nil {
			return err
		}
		cfg.CommandWait = value
	}
	return nil
}

func applyLogOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.LogMaxSizeMB != nil {
		if *decoded.LogMaxSizeMB <= 0 {
			return fmt.Errorf("parse log_max_size_mb in %q: must be > 0", path)
		}
		cfg.LogMaxSizeBytes = int64(*decoded.LogMaxSizeMB) * 1024 * 1024
	}
	if decoded.LogMaxFiles != nil {
		if *decoded.LogMaxFiles <= 0 {
			return fmt.Errorf("parse log_max_files in %q: must be > 0", path)
		}
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}
	return nil
}

func applyEnvOverrides(cfg *Config) []string {
	warnings := []string{}

	if value := strings.TrimSpace(os.Getenv(EnvForgeAPIURL)); value != "" {
		if cfg.ForgeAPIURL != "" && cfg.ForgeAPIURL != value {
			warnings = append(warnings, fmt.Sprintf("%s overrides forge_api_url from config", EnvForgeAPIURL))
		}
		cfg.ForgeAPIURL = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvForgeAPIToken)); value != "" {
		if cfg.ForgeAPIToken != "" && cfg.ForgeAPIToken != value {
			warnings = append(warnings, fmt.Sprintf("%s overrides forge_api_token from config", EnvForgeAPIToken))
		}
		cfg.ForgeAPIToken = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvLinearAPIKey)); value != "" {
		if cfg.LinearAPIKey != "" && cfg.LinearAPIKey != value {
			warnings = append(warnings, fmt.Sprintf("%s overrides linear_api_key from config", EnvLinearAPIKey))
		}
		cfg.LinearAPIKey = value
	}

	return warnings
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Redacted returns a copy of the config safe to include in diagnostics.
func (c *Config) Redacted() Config {
	out := *c
	if out.ForgeAPIToken != "" {
		out.ForgeAPIToken = "<redacted>"
	}
	if out.LinearAPIKey != "" {
		out.LinearAPIKey = "<redacted>"
	}
	return out
}
