// Brainrot is a Telegram userbot that rewrites the account's own
// outgoing messages through an LLM.
//
// It logs in as a regular user over MTProto, watches the chats listed
// in the config file, and edits each outgoing message in place with the
// model's rewrite. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]) and the
// rewrite section is hot-reloaded when the file changes.
//
// Usage:
//
//	brainrot [run]                 Rewrite outgoing messages (default)
//	brainrot init [dir]            Write an example config.yaml
//	brainrot list-chats [query]    Print chat ids and names
//	brainrot version [-o json]     Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brainrot/tg-llm-rewrite/internal/buildinfo"
	"github.com/brainrot/tg-llm-rewrite/internal/config"
)

// Environment switches used by end-to-end smoke tests.
const (
	envBypassRewrite         = "BRAINROT_TEST_BYPASS_REWRITE"
	envDisableCatchUp        = "BRAINROT_TEST_DISABLE_CATCH_UP"
	envDisableHistoricalSkip = "BRAINROT_DISABLE_HISTORICAL_SKIP"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Logs go to stderr; command output such
// as the chat list goes to stdout.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type rootOptions struct {
	configPath string
	override   string
	output     string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "brainrot",
		Short:         "Rewrite your outgoing Telegram messages through an LLM",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRewrite(cmd.Context(), stderr, opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default: auto-discover)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Rewrite outgoing messages in monitored chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRewrite(cmd.Context(), stderr, opts)
		},
	}
	for _, c := range []*cobra.Command{root, runCmd} {
		c.Flags().StringVar(&opts.override, "rewrite-override", "", "replace every message with this text instead of calling the model")
		_ = c.Flags().MarkHidden("rewrite-override")
	}

	listCmd := &cobra.Command{
		Use:   "list-chats [query]",
		Short: "Print the ids and names of your chats",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			return runListChats(cmd.Context(), stdout, stderr, opts.configPath, query)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write an example config.yaml (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(stdout, dir)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runVersion(stdout, opts.output)
		},
	}
	versionCmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(runCmd, initCmd, listCmd, versionCmd)
	return root
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// newLogger creates the process logger. Format must be "text" or
// "json"; anything else falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file for mode.
// It returns the parsed config and the path that was loaded.
func loadConfig(explicit string, mode config.Mode) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath, mode)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// setupLogger builds the logger described by cfg and installs it as
// the slog default.
func setupLogger(w io.Writer, cfg *config.Config) (*slog.Logger, slog.Level, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, 0, err
	}
	logger := newLogger(w, level, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger, level, nil
}

// envSet reports whether the variable is present, whatever its value.
func envSet(lookup func(string) (string, bool), key string) bool {
	_, ok := lookup(key)
	return ok
}

// rewriteOverride picks the fixed replacement text, if any. The flag
// wins over the environment; blank values mean no override.
func rewriteOverride(flag string, getenv func(string) string) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	return strings.TrimSpace(getenv(envBypassRewrite))
}

// ignoreCanceled turns a shutdown-induced cancellation into a clean
// exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
