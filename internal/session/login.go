package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/proxyauth/internal/shared"
	"golang.org/x/oauth2"
)

// PrintFunc surfaces login instructions to the user.
type PrintFunc func(string)

// OAuthConfig builds the service's OAuth2 client. Client credentials are sent in the form body.
func OAuthConfig(svc shared.ServiceConfig, redirectURL string) *oauth2.Config {
	base := strings.TrimRight(svc.AuthURL, "/")
	return &oauth2.Config{
		ClientID:     svc.ClientID,
		ClientSecret: svc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:       base + "/authorize",
			TokenURL:      base + "/token",
			DeviceAuthURL: base + "/device_authorization",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      svc.Scopes,
	}
}

// RequireClient fails with [shared.ErrMissingCredentials] when svc has no client id.
func RequireClient(svc shared.ServiceConfig) error {
	if strings.TrimSpace(svc.ClientID) == "" {
		return fmt.Errorf("%w: service.client_id is not set", shared.ErrMissingCredentials)
	}
	return nil
}

// oauthContext routes the oauth2 package's requests through the session transport.
func (s *Session) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.HTTPClient())
}

// LoginOAuthSimple runs the device authorization flow: it prints a link for the user to visit and
// polls the token endpoint until the user approves, the code expires or ctx ends.
func (s *Session) LoginOAuthSimple(ctx context.Context, printFn PrintFunc) error {
	if err := RequireClient(s.service); err != nil {
		return err
	}
	conf := OAuthConfig(s.service, "")
	octx := s.oauthContext(ctx)

	da, err := conf.DeviceAuth(octx)
	if err != nil {
		return fmt.Errorf("%w: device authorization: %v", shared.ErrLoginFailed, err)
	}

	link := da.VerificationURIComplete
	if link == "" {
		link = da.VerificationURI
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		link = "https://" + link
	}

	msg := fmt.Sprintf("Visit %s to log in", link)
	if !da.Expiry.IsZero() {
		msg += fmt.Sprintf(", the code will expire in %d seconds", int(time.Until(da.Expiry).Round(time.Second).Seconds()))
	}
	printFn(msg)
	if da.VerificationURIComplete == "" && da.UserCode != "" {
		printFn("Enter code: " + da.UserCode)
	}

	tok, err := conf.DeviceAccessToken(octx, da)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrLoginFailed, err)
	}
	if err := s.ApplyToken(tok); err != nil {
		return err
	}

	s.mu.Lock()
	s.isPKCE = false
	s.mu.Unlock()
	s.logger.Info("device login complete", "transport", s.Transport().Describe())
	return nil
}

// LoginPKCE prints an authorization link, reads the URL the browser was redirected to from input and
// exchanges its code using an S256 verifier.
func (s *Session) LoginPKCE(ctx context.Context, printFn PrintFunc, input io.Reader) error {
	if err := RequireClient(s.service); err != nil {
		return err
	}
	conf := OAuthConfig(s.service, s.service.PKCERedirectURI)
	verifier := oauth2.GenerateVerifier()
	state, err := shared.GenerateState()
	if err != nil {
		return err
	}

	printFn("READ CAREFULLY!")
	printFn("You need to open this link and login with your username and password. " +
		"Afterwards you will be redirected to an 'Oops' page. " +
		"Copy the URL of that page and paste it here.")
	printFn(conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)))

	line, err := bufio.NewReader(input).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return fmt.Errorf("%w: failed to read redirect url: %v", shared.ErrInvalidInput, err)
	}

	code, err := codeFromRedirect(strings.TrimSpace(line), state)
	if err != nil {
		return err
	}

	tok, err := conf.Exchange(s.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTokenExchange, err)
	}
	if err := s.ApplyToken(tok); err != nil {
		return err
	}

	s.mu.Lock()
	s.isPKCE = true
	s.mu.Unlock()
	s.logger.Info("pkce login complete", "transport", s.Transport().Describe())
	return nil
}

// codeFromRedirect extracts the code from a pasted redirect URL. A state, when present, must match.
func codeFromRedirect(raw, state string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("%w: %s", shared.ErrAuthFailed, e)
	}
	if got := q.Get("state"); got != "" && got != state {
		return "", shared.ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: redirect url has no code", shared.ErrInvalidInput)
	}
	return code, nil
}

// RefreshToken exchanges the refresh token for new credentials. The old refresh token is kept when the
// service does not rotate it.
func (s *Session) RefreshToken(ctx context.Context) error {
	tok := s.Token()
	if tok == nil || tok.RefreshToken == "" {
		return shared.ErrNoRefreshToken
	}
	if err := RequireClient(s.service); err != nil {
		return err
	}

	redirect := ""
	if s.IsPKCE() {
		redirect = s.service.PKCERedirectURI
	}
	conf := OAuthConfig(s.service, redirect)

	// Force a refresh regardless of the stored expiry.
	next, err := conf.TokenSource(s.oauthContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	if err := s.ApplyToken(next); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	s.logger.Info("token refreshed", "expiry", next.Expiry)
	return nil
}
