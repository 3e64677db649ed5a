package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/proxyauth/internal/shared"
	"github.com/desertthunder/proxyauth/internal/ui"
	"github.com/urfave/cli/v3"
)

// AuthLogin logs in with the requested flow, or the full fallback chain when none is given.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	pkce, local := cmd.Bool("pkce"), cmd.Bool("local")
	if pkce && local {
		return fmt.Errorf("%w: cannot specify both --pkce and --local", shared.ErrInvalidArgument)
	}

	integ := r.app()
	var err error
	switch {
	case pkce:
		err = integ.LoginPKCE(ctx, r.printLine)
	case local:
		err = integ.LoginLocal(ctx, r.printLine)
	default:
		err = integ.Login(ctx, r.printLine)
	}
	if err != nil {
		if errors.Is(err, shared.ErrRoutingUnavailable) {
			r.writePlain("%s No proxy endpoint answered; refusing to log in unmasked.\n", ui.Err("✗"))
		}
		return err
	}

	r.logger.Info("authentication successful")
	return r.writePlain("%s Authentication successful\n", ui.Check(true))
}

// AuthStatus reports the stored token and whether the service still accepts it.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	integ := r.app()
	tf, err := integ.Token()
	if err != nil {
		r.writePlain("Authentication: %s Not authenticated\n", ui.Check(false))
		return nil
	}

	r.writePlain("%s\n", ui.Title("Stored token"))
	r.writePlain("Type:    %s\n", tf.TokenType)
	r.writePlain("PKCE:    %v\n", tf.IsPKCE)
	if !tf.Expiry.IsZero() {
		r.writePlain("Expires: %s (%s)\n", tf.Expiry.Format(time.RFC3339), time.Until(tf.Expiry).Round(time.Second))
	}

	sess, ok, err := integ.VerifyToken(ctx, tf)
	if err != nil {
		return err
	}
	if !ok {
		return r.writePlain("Authentication: %s Token rejected; run 'proxyauth auth login'\n", ui.Check(false))
	}
	r.writePlain("Authentication: %s Authenticated\n", ui.Check(true))
	return r.writePlain("User %d, country %s, session %s\n", sess.UserID(), sess.CountryCode(), sess.SessionID())
}

// AuthLogout removes the stored token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.app().Logout(); err != nil {
		return err
	}
	r.logger.Info("token removed", "path", r.tokenPath())
	return r.writePlain("%s Logged out\n", ui.Check(true))
}
