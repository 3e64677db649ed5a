package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/proxyauth/internal/shared"
	"github.com/desertthunder/proxyauth/internal/ui"
	"github.com/urfave/cli/v3"
)

// Setup writes the example configuration to the --config path unless a file already exists there.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err == nil {
		r.logger.Info("config file already exists", "path", r.configPath)
		return r.writePlain("%s Config already exists at %s\n", ui.Warn("!"), r.configPath)
	}

	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	r.logger.Info("config file created", "path", r.configPath)

	r.writePlain("%s Config written to %s\n\n", ui.Check(true), r.configPath)
	r.writePlain("Next steps:\n")
	r.writePlain("1. Set service.client_id and service.client_secret (or %s / %s)\n", shared.EnvClientID, shared.EnvClientSecret)
	r.writePlain("2. Add [[proxy.endpoints]] entries and set proxy.enabled = true\n")
	r.writePlain("3. Run 'proxyauth proxy test' and then 'proxyauth auth login'\n")
	return nil
}
