package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/shared"
	"golang.org/x/oauth2"
)

// DefaultTokenLifetime applies when the token endpoint omits expires_in.
const DefaultTokenLifetime = time.Hour

// Session is a remote service session: credentials, identity and the transport requests go through.
type Session struct {
	service shared.ServiceConfig
	logger  *log.Logger
	now     func() time.Time

	mu          sync.RWMutex
	transport   Transport
	token       *oauth2.Token
	isPKCE      bool
	sessionID   string
	countryCode string
	userID      int64
}

// New builds a session with no credentials. A nil transport means [Direct] with a 45 second timeout.
func New(service shared.ServiceConfig, t Transport, logger *log.Logger) *Session {
	if t == nil {
		t = Direct(45 * time.Second)
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Session{
		service:   service,
		transport: t,
		logger:    shared.WithLogger(logger, "component", "session"),
		now:       time.Now,
	}
}

func (s *Session) Service() shared.ServiceConfig { return s.service }

// SetTransport swaps the network path. Credentials and identity are kept.
func (s *Session) SetTransport(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
	s.logger.Debug("session transport changed", "transport", t.Describe())
}

func (s *Session) Transport() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// HTTPClient returns the current transport's client.
func (s *Session) HTTPClient() *http.Client {
	return s.Transport().HTTPClient()
}

// ApplyToken replaces the session credentials with tok in one step.
//
// A token without an access token is rejected and nothing changes. A zero expiry becomes now plus
// [DefaultTokenLifetime]; an empty token type becomes Bearer.
func (s *Session) ApplyToken(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("%w: token response missing access_token", shared.ErrTokenExchange)
	}

	next := *tok
	if next.TokenType == "" {
		next.TokenType = "Bearer"
	}
	if next.Expiry.IsZero() {
		next.Expiry = s.now().Add(DefaultTokenLifetime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = &next
	return nil
}

// Token returns a copy of the current credentials, or nil.
func (s *Session) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil
	}
	tok := *s.token
	return &tok
}

// LoadToken restores credentials saved by [Session.TokenFile].
func (s *Session) LoadToken(tf *shared.TokenFile) error {
	if tf == nil || tf.AccessToken == "" {
		return shared.ErrNotAuthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = &oauth2.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		TokenType:    tf.TokenType,
		Expiry:       tf.Expiry,
	}
	s.isPKCE = tf.IsPKCE
	return nil
}

// TokenFile converts the current credentials for persistence.
func (s *Session) TokenFile() (*shared.TokenFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return &shared.TokenFile{
		TokenType:    s.token.TokenType,
		AccessToken:  s.token.AccessToken,
		RefreshToken: s.token.RefreshToken,
		Expiry:       s.token.Expiry,
		IsPKCE:       s.isPKCE,
	}, nil
}

func (s *Session) IsPKCE() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPKCE
}

func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) CountryCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countryCode
}

func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

type sessionInfo struct {
	SessionID   string `json:"sessionId"`
	CountryCode string `json:"countryCode"`
	UserID      int64  `json:"userId"`
}

// CheckLogin asks the service whether the current token is valid and records the session identity.
//
// A rejected token reports false with no error.
func (s *Session) CheckLogin(ctx context.Context) (bool, error) {
	tok := s.Token()
	if tok == nil {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.service.APIURL, "/")+"/sessions", nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	tok.SetAuthHeader(req)

	resp, err := s.HTTPClient().Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, fmt.Errorf("%w: sessions returned status %d", shared.ErrServiceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: sessions returned status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var info sessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("%w: failed to decode session: %v", shared.ErrAPIRequest, err)
	}

	s.mu.Lock()
	s.sessionID, s.countryCode, s.userID = info.SessionID, info.CountryCode, info.UserID
	s.mu.Unlock()
	s.logger.Info("session verified", "session_id", info.SessionID, "country", info.CountryCode, "user_id", info.UserID)
	return true, nil
}
