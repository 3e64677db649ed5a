package shared

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TokenFile is the on-disk form of a service login.
type TokenFile struct {
	TokenType    string    `toml:"token_type"`
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	Expiry       time.Time `toml:"expiry"`
	IsPKCE       bool      `toml:"is_pkce"`
}

// SaveToken writes t to path with owner-only permissions.
func SaveToken(path string, t *TokenFile) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(t); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// LoadToken reads a token previously written by [SaveToken].
func LoadToken(path string) (*TokenFile, error) {
	var t TokenFile
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: token file has no access token", ErrNotAuthenticated)
	}
	return &t, nil
}

// RemoveToken deletes the token file, ignoring a missing file.
func RemoveToken(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
