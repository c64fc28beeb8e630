// Package credstore manages the OAuth credential file an OAuth connector
// (Gemini CLI Personal, OpenAI OAuth) reads its access token from.
//
// Grounded on gemini_oauth_personal.py's GeminiPersonalCredentialsFileHandler
// and _token_refresh_lock: spec.md §5 names the same "single writer
// invariant... token refresh is serialized per connector instance via a
// mutex so concurrent requests share one refresh rather than stampeding."
// The file-watch half is ported from the Python's watchdog Observer onto
// fsnotify, the library the rest of the retrieval pack reaches for file
// watching.
package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Credentials is the on-disk shape spec.md §6 names: "OAuth credential
// JSON: {access_token, refresh_token, token_type, expiry_date (ms since
// epoch)}".
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiryDate   int64  `json:"expiry_date"`
}

// Expired reports whether the access token has passed its expiry_date,
// with a small safety margin so a refresh starts slightly before the
// token would actually be rejected upstream.
func (c Credentials) Expired() bool {
	if c.ExpiryDate == 0 {
		return true
	}
	expiry := time.UnixMilli(c.ExpiryDate)
	return time.Now().Add(30 * time.Second).After(expiry)
}

// Token converts Credentials into the oauth2.Token shape connectors build
// their Authorization header from.
func (c Credentials) Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    tokenType,
		Expiry:       time.UnixMilli(c.ExpiryDate),
	}
}

// RefreshFunc exchanges an expired (or about-to-expire) credential for a
// fresh one, typically by calling the OAuth provider's token endpoint with
// current.RefreshToken.
type RefreshFunc func(ctx context.Context, current Credentials) (Credentials, error)

// Store owns one on-disk OAuth credential file: it serializes refreshes
// behind a mutex (so concurrent requests share one refresh instead of
// stampeding the token endpoint) and watches the file for out-of-band
// changes (a user re-running `gemini auth login` in another process).
type Store struct {
	path    string
	refresh RefreshFunc
	log     *zap.Logger

	mu    sync.Mutex
	creds Credentials

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// Open loads path and starts watching it for out-of-band changes. refresh
// may be nil for read-only test fixtures; Get then surfaces an expired
// credential as-is instead of erroring, leaving refresh entirely to the
// caller.
func Open(path string, refresh RefreshFunc, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{path: path, refresh: refresh, log: log, stop: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, fmt.Errorf("loading credentials from %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting credential file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher

	go s.watch()

	return s, nil
}

func (s *Store) watch() {
	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warn("credential file reload failed", zap.String("path", s.path), zap.Error(err))
			} else {
				s.log.Info("credential file reloaded after out-of-band change", zap.String("path", s.path))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("credential file watcher error", zap.Error(err))
		}
	}
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

// Get returns a live credential, refreshing it first if it has expired.
// The mutex held across the refresh call means a second concurrent Get
// blocks until the first's refresh finishes and then reads the same
// fresh credential, instead of triggering its own refresh.
func (s *Store) Get(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.creds.Expired() || s.refresh == nil {
		return s.creds, nil
	}

	fresh, err := s.refresh(ctx, s.creds)
	if err != nil {
		return Credentials{}, fmt.Errorf("refreshing oauth credentials: %w", err)
	}

	if err := s.save(fresh); err != nil {
		s.log.Warn("failed to persist refreshed credentials", zap.Error(err))
	}
	s.creds = fresh
	return s.creds, nil
}

// save writes creds back to path. Called with s.mu already held.
func (s *Store) save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Close stops the file watcher. The caller owns the Store's lifetime.
func (s *Store) Close() error {
	close(s.stop)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
