package auth

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcoot/mastermind-go/internal/dependencies/clock"
	"github.com/mcoot/mastermind-go/internal/model"
)

// CredentialProvider supplies the bearer credential for API requests.
// Invalidate is called by the transport when the server rejects the
// credential; after that Token fails until a new credential is set.
type CredentialProvider interface {
	// Token returns the current bearer token, or model.ErrNoToken
	Token() (string, error)

	// SetToken replaces the stored credential
	SetToken(token string) error

	// Invalidate discards the stored credential
	Invalidate() error
}

// FileStore persists the bearer token in a file so logins survive
// process restarts. Token inspects the JWT exp claim (without verifying
// the signature, which only the server can do) so an expired credential
// is reported before a request is wasted on it.
type FileStore struct {
	path  string
	clock clock.Clock

	mu    sync.Mutex
	token string
}

// Ensure FileStore implements CredentialProvider
var _ CredentialProvider = (*FileStore)(nil)

// NewFileStore creates a FileStore backed by the given path. The file is
// read lazily on first Token call.
func NewFileStore(path string, clk clock.Clock) *FileStore {
	return &FileStore{path: path, clock: clk}
}

// DefaultTokenPath returns the default token file location
func DefaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mmind/token"
	}
	return filepath.Join(home, ".mmind", "token")
}

// Token returns the stored bearer token
func (s *FileStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", model.ErrNoToken
			}
			return "", err
		}
		s.token = strings.TrimSpace(string(data))
	}

	if s.token == "" {
		return "", model.ErrNoToken
	}
	if expired, err := s.expired(s.token); err == nil && expired {
		return "", model.ErrAuthExpired
	}
	return s.token, nil
}

// SetToken stores the token in memory and on disk
func (s *FileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(token), 0600)
}

// Invalidate discards the credential in memory and on disk
func (s *FileStore) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// expired reports whether the token carries an exp claim in the past.
// Tokens that are not JWTs, or carry no exp, are left for the server to
// judge.
func (s *FileStore) expired(token string) (bool, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false, err
	}
	return exp.Time.Before(s.now()), nil
}

func (s *FileStore) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

// StaticToken is a CredentialProvider holding a fixed in-memory token,
// used when the token is passed via flag or env
type StaticToken struct {
	mu      sync.Mutex
	token   string
	revoked bool
}

// Ensure StaticToken implements CredentialProvider
var _ CredentialProvider = (*StaticToken)(nil)

// NewStaticToken creates a StaticToken provider
func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: token}
}

// Token returns the fixed token unless it has been invalidated
func (s *StaticToken) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked || s.token == "" {
		return "", model.ErrNoToken
	}
	return s.token, nil
}

// SetToken replaces the token and clears any invalidation
func (s *StaticToken) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.revoked = false
	return nil
}

// Invalidate discards the token
func (s *StaticToken) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
	return nil
}
