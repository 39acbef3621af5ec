// Command modelrelay is the proxy CLI.
//
// Usage:
//
//	modelrelay serve --config config.yaml
//	modelrelay validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/modelrelay/modelrelay/pkg/config"
	"github.com/modelrelay/modelrelay/pkg/config/provider"
	"github.com/modelrelay/modelrelay/pkg/logger"
	"github.com/modelrelay/modelrelay/pkg/relay"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the proxy server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error). Overrides the config value."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("modelrelay version %s\n", version)
	return nil
}

// ServeCmd starts the proxy server.
type ServeCmd struct {
	Watch bool `default:"true" negatable:"" help:"Watch the config file for changes and hot-reload."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	p, err := provider.New(provider.TypeFile, cli.Config)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}

	var srv *relay.Server
	loader := config.NewLoader(p, config.WithOnChange(func(next *config.Config) {
		srv.SetConfig(next)
		slog.Info("config applied", "providers", len(next.Providers), "overrides", len(next.Overrides))
	}))
	defer loader.Close()

	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	initLogging(cli, cfg)
	srv = relay.NewServer(cfg)

	if c.Watch {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("config watch stopped", "error", err)
			}
		}()
	}

	return srv.Run(ctx)
}

// ValidateCmd checks a configuration file and exits.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, loader, err := config.LoadFile(context.Background(), cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	fmt.Printf("%s is valid: %d provider(s), %d override rule(s)\n",
		cli.Config, len(cfg.Providers), len(cfg.Overrides))
	return nil
}

func initLogging(cli *CLI, cfg *config.Config) {
	level := cfg.LogLevel
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger.Init(logger.ParseLevel(level), os.Stderr)
}

func main() {
	// A .env beside the binary supplies provider API keys in development.
	_ = godotenv.Load()

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("modelrelay"),
		kong.Description("Anthropic Messages API proxy with provider routing."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
