package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/integration"
	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	logger      *log.Logger
	output      io.Writer
	input       io.Reader
	registry    *prometheus.Registry
	openBrowser shared.BrowserOpener
	prober      proxy.Prober
	integ       *integration.Integration
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	Logger      *log.Logger
	Output      io.Writer
	Input       io.Reader
	Registry    *prometheus.Registry
	OpenBrowser shared.BrowserOpener
	Prober      proxy.Prober
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		logger:      opts.Logger,
		output:      opts.Output,
		input:       opts.Input,
		registry:    opts.Registry,
		openBrowser: opts.OpenBrowser,
		prober:      opts.Prober,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, proxyCommand, authCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Load reads the --config file when it exists, applies environment overrides and sets the log level.
func (r *Runner) Load(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if path != "" {
		r.configPath = path
	}

	if _, err := os.Stat(r.configPath); err == nil {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
	}

	if err := shared.ApplyEnv(r.config); err != nil {
		r.logger.Warn("failed to load .env file", "error", err)
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))
	r.integ = nil
	return ctx, nil
}

// tokenPath resolves auth.token_path relative to the config file.
func (r *Runner) tokenPath() string {
	p := r.config.Auth.TokenPath
	if p == "" || filepath.IsAbs(p) || r.configPath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(r.configPath), p)
}

func (r *Runner) app() *integration.Integration {
	if r.integ == nil {
		r.integ = integration.New(r.config, integration.Opts{
			Logger:      r.logger,
			Registry:    r.registry,
			Prober:      r.prober,
			OpenBrowser: r.openBrowser,
			Input:       r.input,
			TokenPath:   r.tokenPath(),
		})
	}
	return r.integ
}

// printLine is the print callback handed to login flows.
func (r *Runner) printLine(msg string) {
	r.writePlain("%s\n", msg)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
