package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TokenSource supplies the per-account credential for cloud uploads.
type TokenSource interface {
	Token(account string) (string, error)
}

// FileTokenStore reads OAuth access tokens from
// <dir>/<account>/token.json, with "@" in the account spelled "_at_".
// Tokens are cached after the first read.
type FileTokenStore struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	cache map[string]fileToken
}

type fileToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ErrTokenMissing is returned when no usable token exists for an account.
var ErrTokenMissing = errors.New("no cloud token for account")

func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{dir: dir, now: time.Now, cache: map[string]fileToken{}}
}

// AccountDir returns where the token of account is stored.
func (s *FileTokenStore) AccountDir(account string) string {
	return filepath.Join(s.dir, strings.ReplaceAll(account, "@", "_at_"))
}

// Token returns the cached token of account. An expired cached token is
// re-read from disk once, since another process may have refreshed it.
func (s *FileTokenStore) Token(account string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.cache[account]; ok {
		if !s.expired(tok) {
			return tok.AccessToken, nil
		}
		delete(s.cache, account)
	}

	tok, err := s.load(account)
	if err != nil {
		return "", err
	}
	if s.expired(tok) {
		return "", fmt.Errorf("%w %s: token expired at %s", ErrTokenMissing, account, tok.ExpiresAt.Format(time.RFC3339))
	}
	s.cache[account] = tok
	return tok.AccessToken, nil
}

func (s *FileTokenStore) load(account string) (fileToken, error) {
	var tok fileToken
	path := filepath.Join(s.AccountDir(account), "token.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return tok, fmt.Errorf("%w %s: %v", ErrTokenMissing, account, err)
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return tok, fmt.Errorf("%w %s: invalid %s: %v", ErrTokenMissing, account, path, err)
	}
	if tok.AccessToken == "" {
		return tok, fmt.Errorf("%w %s: empty access token in %s", ErrTokenMissing, account, path)
	}
	return tok, nil
}

func (s *FileTokenStore) expired(tok fileToken) bool {
	return !tok.ExpiresAt.IsZero() && !s.now().Before(tok.ExpiresAt)
}
