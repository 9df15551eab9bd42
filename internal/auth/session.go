// Package auth keeps the signed-in user's session.
//
// The token and uid returned by a successful login are persisted in the
// key-value store under "token" and "uid", and read back once at start.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"firewatch/internal/backend"
	"firewatch/internal/kvstore"
)

// Storage keys
const (
	KeyToken = "token"
	KeyUID   = "uid"
)

// MinPasswordLength is the shortest password accepted at registration
const MinPasswordLength = 6

// ErrNotLoggedIn is returned by calls that need credentials when there are none
var ErrNotLoggedIn = errors.New("not logged in")

// ValidationError is a form input rejected before any request is made
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Backend is the subset of the backend client the session uses
type Backend interface {
	Login(ctx context.Context, username, password string) (backend.LoginResult, error)
	Register(ctx context.Context, username, password, email string) error
	UserDetails(ctx context.Context, token, uid string) (backend.UserDetails, error)
}

// Store is the persisted storage the session writes to
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Credentials identify a signed-in user
type Credentials struct {
	Token string
	UID   string
}

// Registration is the sign-up form
type Registration struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Validate checks the form the way the account service expects it
func (r Registration) Validate() error {
	if strings.TrimSpace(r.Username) == "" || strings.TrimSpace(r.Password) == "" || strings.TrimSpace(r.Email) == "" {
		return &ValidationError{Message: "Please fill in all fields"}
	}
	if r.Password != r.ConfirmPassword {
		return &ValidationError{Message: "Passwords do not match"}
	}
	if len(r.Password) < MinPasswordLength {
		return &ValidationError{Message: fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)}
	}
	return nil
}

// UpdateCallback is called after login, logout and restore
type UpdateCallback func(authenticated bool)

type listener struct {
	id int
	cb UpdateCallback
}

// Session is the login state of the app
type Session struct {
	backend Backend
	store   Store
	logger  *slog.Logger

	mu        sync.RWMutex
	creds     *Credentials
	listeners []listener
	nextID    int
}

// NewSession creates a signed-out session
func NewSession(b Backend, store Store, logger *slog.Logger) *Session {
	return &Session{
		backend: b,
		store:   store,
		logger:  logger,
	}
}

// Restore loads persisted credentials. Both keys must be present.
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.store.Get(ctx, KeyToken)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	uid, err := s.store.Get(ctx, KeyUID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if token == "" || uid == "" {
		return nil
	}

	s.setCredentials(&Credentials{Token: token, UID: uid})
	s.logger.Info("session restored", "uid", uid)
	return nil
}

// Login signs in and persists the returned credentials
func (s *Session) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return &ValidationError{Message: "Please enter both username and password"}
	}

	res, err := s.backend.Login(ctx, username, password)
	if err != nil {
		s.logger.Warn("login failed", "username", username, "error", err)
		return err
	}

	if err := s.store.SetMany(ctx, map[string]string{KeyToken: res.Token, KeyUID: res.UID}); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	s.setCredentials(&Credentials{Token: res.Token, UID: res.UID})
	s.logger.Info("logged in", "uid", res.UID)
	return nil
}

// Register creates an account. It does not sign in.
func (s *Session) Register(ctx context.Context, r Registration) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.backend.Register(ctx, r.Username, r.Password, r.Email); err != nil {
		s.logger.Warn("registration failed", "username", r.Username, "error", err)
		return err
	}
	s.logger.Info("registered", "username", r.Username)
	return nil
}

// Logout forgets the credentials in memory and in storage
func (s *Session) Logout(ctx context.Context) error {
	err := s.store.Delete(ctx, KeyToken, KeyUID)
	s.setCredentials(nil)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// AccountDetails fetches the profile of the signed-in user
func (s *Session) AccountDetails(ctx context.Context) (backend.UserDetails, error) {
	creds, ok := s.Credentials()
	if !ok {
		return backend.UserDetails{}, ErrNotLoggedIn
	}
	return s.backend.UserDetails(ctx, creds.Token, creds.UID)
}

// IsAuthenticated reports whether a token is held
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds != nil
}

// Credentials returns the held credentials
func (s *Session) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// RegisterCallback registers a callback for login state changes and
// returns the function that unregisters it
func (s *Session) RegisterCallback(cb UpdateCallback) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, cb: cb})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) setCredentials(c *Credentials) {
	s.mu.Lock()
	s.creds = c
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l.cb(c != nil)
	}
}
