// Package commands implements the assetbuild subcommands.
package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/assetbuild/internal/config"
)

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"assetbuild.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Run the build plan once"`
	Watch   WatchCmd   `cmd:"" help:"Rebuild whenever source files change"`
	Daemon  DaemonCmd  `cmd:"" help:"Rebuild periodically and serve metrics and build history"`
	Worker  WorkerCmd  `cmd:"" help:"Execute commands for remote builders over NATS"`
	Compact CompactCmd `cmd:"" help:"Compact the file version store and collect unreachable objects"`
	Show    VersionCmd `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply installs a logger before any configuration is read.
func (c *CLI) AfterApply() error {
	level := config.Default().Logging.SlogLevel()
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the configuration. A missing default file yields the defaults.
func (c *CLI) loadConfig() (*config.Config, error) {
	if _, err := os.Stat(c.Config); os.IsNotExist(err) && c.Config == config.DefaultPath {
		return config.Default(), nil
	}
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	c.applyLogging(cfg)
	return cfg, nil
}

// applyLogging reinstalls the default logger with the configured level and format.
func (c *CLI) applyLogging(cfg *config.Config) {
	level := cfg.Logging.SlogLevel()
	if c.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Logging.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
