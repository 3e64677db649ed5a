// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create a configuration file from the built-in template",
		Action: r.Setup,
	}
}

// proxyCommand handles proxy pool diagnostics
func proxyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "Inspect and test the proxy pool",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List configured endpoints with credentials redacted",
				Flags:  jsonFlags(),
				Action: r.ProxyList,
			},
			{
				Name:  "status",
				Usage: "Show routing status",
				Flags: append(jsonFlags(), &cli.BoolFlag{
					Name:  "live",
					Usage: "Select an endpoint and validate masking instead of reading configuration only",
				}),
				Action: r.ProxyStatus,
			},
			{
				Name:  "test",
				Usage: "Probe every enabled endpoint",
				Flags: append(jsonFlags(), &cli.BoolFlag{
					Name:  "metrics",
					Usage: "Print probe metrics in Prometheus text format",
				}),
				Action: r.ProxyTest,
			},
			{
				Name:   "ip",
				Usage:  "Show the external IP requests are observed from",
				Action: r.ProxyIP,
			},
			{
				Name:   "validate",
				Usage:  "Compare routed and direct IPs and locate the routed one",
				Flags:  jsonFlags(),
				Action: r.ProxyValidate,
			},
		},
	}
}

// authCommand handles service login
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Service authentication",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in, reusing a stored token when it is still valid",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pkce",
						Usage: "Paste the redirect URL instead of using the device link",
					},
					&cli.BoolFlag{
						Name:  "local",
						Usage: "Receive the redirect on the local callback server",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show the stored token and check it with the service",
				Action: r.AuthStatus,
			},
			{
				Name:   "logout",
				Usage:  "Remove the stored token",
				Action: r.AuthLogout,
			},
		},
	}
}
