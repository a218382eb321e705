// Package cmd provides CLI commands for the sluice binary.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/recovery"
)

// Shared flags for commands that print results.
var (
	// FormatFlag selects output format: json, jsonl, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, jsonl, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for commands with a TUI view (extract, replay).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (extract, replay only)",
	}
)

// ReadOnlyFlags returns the shared output flags.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ConfigFlags returns the flags that locate configuration.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to sluice.yaml",
			EnvVars: []string{"SLUICE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Load environment variables from this file before reading config",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level: debug, info, warn, error",
			EnvVars: []string{"SLUICE_LOG_LEVEL"},
		},
	}
}

// loadConfig loads the env file and config file named by the config flags.
// Without --config an empty config is returned.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFile(c.String("env-file"), c.IsSet("env-file")); err != nil {
		return nil, err
	}
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// logLevel resolves the log level from flag, config, then fallback.
func logLevel(c *cli.Context, cfg *config.Config, fallback zapcore.Level) (zapcore.Level, error) {
	s := resolveString(c, "log-level", cfg.LogLevel)
	if s == "" {
		return fallback, nil
	}
	level, err := log.ParseLevel(s)
	if err != nil {
		return fallback, fmt.Errorf("invalid --log-level: %w", err)
	}
	return level, nil
}

// buildEngine creates the recovery engine, filling unset config values
// with the defaults.
func buildEngine(rc config.RecoveryConfig) (*recovery.Engine, error) {
	cfg := recovery.DefaultConfig()
	if len(rc.ArrayKeys) > 0 {
		cfg.ArrayKeys = rc.ArrayKeys
	}
	if len(rc.IdentityKeys) > 0 {
		cfg.IdentityKeys = rc.IdentityKeys
	}
	cfg.MaxInputBytes = rc.MaxInputBytes
	return recovery.New(cfg)
}

// resolveString returns the flag value if explicitly set, otherwise the
// config value if non-empty, otherwise the flag default.
func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

// resolveInt is resolveString for int flags. Zero config values fall back
// to the flag default.
func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

// resolveDuration is resolveString for duration flags.
func resolveDuration(c *cli.Context, name string, fromConfig config.Duration) time.Duration {
	if c.IsSet(name) || fromConfig.Duration == 0 {
		return c.Duration(name)
	}
	return fromConfig.Duration
}

// resolveBool returns true if either the flag or the config enables it,
// unless the flag was explicitly set.
func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
