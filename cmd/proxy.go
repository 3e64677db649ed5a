package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/proxyauth/internal/proxy"
	"github.com/desertthunder/proxyauth/internal/ui"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v3"
)

type endpointView struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Priority  int      `json:"priority"`
	Enabled   bool     `json:"enabled"`
	Protocols []string `json:"protocols"`
}

// ProxyList prints the configured endpoints without contacting them.
func (r *Runner) ProxyList(ctx context.Context, cmd *cli.Command) error {
	pool, err := proxy.NewPool(proxy.SettingsFromConfig(r.config))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		views := make([]endpointView, 0, pool.Len())
		for _, e := range pool.Endpoints() {
			views = append(views, endpointView{
				Name: e.Name(), URL: e.Redacted(), Priority: e.Priority(), Enabled: e.Enabled(), Protocols: e.Protocols(),
			})
		}
		return r.writeJSON(views, cmd.Bool("pretty"))
	}

	if !pool.Enabled() {
		r.writePlain("%s\n", ui.Warn("proxy routing is disabled"))
	}
	return r.writePlain("%s", ui.Endpoints(pool.Endpoints()))
}

// ProxyStatus prints routing status, from configuration alone unless --live is set.
func (r *Runner) ProxyStatus(ctx context.Context, cmd *cli.Command) error {
	integ := r.app()
	if cmd.Bool("live") {
		if _, err := integ.GetSession(); err != nil {
			return err
		}
	}

	st := integ.ProxyStatus(ctx)
	if cmd.Bool("json") {
		return r.writeJSON(st, cmd.Bool("pretty"))
	}
	return r.writePlain("%s", ui.Status(st))
}

// ProxyTest probes every enabled endpoint.
func (r *Runner) ProxyTest(ctx context.Context, cmd *cli.Command) error {
	results, err := r.app().TestProxyConnectivity(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if err := r.writeJSON(results, cmd.Bool("pretty")); err != nil {
			return err
		}
	} else {
		r.writePlain("%s", ui.Probes(results))
	}

	if cmd.Bool("metrics") {
		return r.writeMetrics()
	}
	return nil
}

func (r *Runner) writeMetrics() error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(r.output, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	return nil
}

// ProxyIP prints the external address the service would observe.
func (r *Runner) ProxyIP(ctx context.Context, cmd *cli.Command) error {
	ip, err := r.app().CurrentIP(ctx)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", ip)
}

// ProxyValidate runs the masking check. A failed check is reported, not returned as an error.
func (r *Runner) ProxyValidate(ctx context.Context, cmd *cli.Command) error {
	ok, info, err := r.app().ValidateLocationMasking(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{"masked": ok, "location": info}, cmd.Bool("pretty"))
	}
	return r.writePlain("%s", ui.Location(ok, info))
}
