package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/forgeworks/bridge/internal/config"
	"github.com/forgeworks/bridge/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, warnings, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := logging.New(ctx, logging.WithLevel(level), logging.WithMaxFiles(cfg.LogMaxFiles))
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	for _, warning := range warnings {
		logger.Logger.Warn(warning)
	}
	logger.Logger.
		With("command", resolveCommandName(args), "args", redactArgs(args)).
		Debug("cli invocation")

	cmd := newRootCommand(ctx, cfg, logger.Logger)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return err
	}

	return nil
}

func newRootCommand(ctx context.Context, cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "bridge",
		Short:         "Drive tracker issues to pull requests through remote agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newRunCommand(cfg, logger),
		newAgentsCommand(cfg, logger),
		newIssueCommand(cfg, logger),
		newSessionCommand(cfg, logger),
		newDoctorCommand(cfg, logger),
		newJournalCommand(logger),
		newBugreportCommand(logger),
		newVersionCommand(),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	_ = ctx
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bridge version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}

// resolveCommandName picks the subcommand out of raw CLI arguments for the
// invocation log line, before cobra has parsed anything.
func resolveCommandName(args []string) string {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg
	}
	return "root"
}

// redactArgs masks values of credential-bearing flags so raw invocations
// can be logged.
func redactArgs(args []string) []string {
	redacted := make([]string, len(args))
	maskNext := false
	for i, arg := range args {
		if maskNext {
			redacted[i] = "<redacted>"
			maskNext = false
			continue
		}
		if key, _, found := strings.Cut(arg, "="); found && strings.HasPrefix(key, "--") {
			if isSensitiveToken(strings.ToLower(strings.TrimPrefix(key, "--"))) {
				redacted[i] = key + "=<redacted>"
				continue
			}
		}
		if strings.HasPrefix(arg, "--") && isSensitiveToken(strings.ToLower(strings.TrimPrefix(arg, "--"))) {
			maskNext = true
		}
		redacted[i] = arg
	}
	return redacted
}

func isSensitiveToken(token string) bool {
	for _, marker := range []string{"token", "key", "secret", "password", "credential"} {
		if strings.Contains(token, marker) {
			return true
		}
	}
	return false
}
