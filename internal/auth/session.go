// Package auth holds the client-side session that the chat core reads bearer
// tokens and the local user identity from.
package auth

import (
	"errors"
	"sync"
)

// ErrAuthRequired is returned by any authenticated operation attempted without a token.
var ErrAuthRequired = errors.New("authentication required")

// Provider exposes the current bearer token and user identity.
// Token returns "" when the user is signed out.
type Provider interface {
	Token() string
	UserID() string
}

// Session is a Provider whose credentials change on sign-in and sign-out.
type Session struct {
	mu           sync.RWMutex
	token        string
	refreshToken string
	userID       string
	onSignOut    []func()
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) SignIn(token, refreshToken, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.refreshToken = refreshToken
	s.userID = userID
}

// SignOut clears the credentials and runs the sign-out hooks, newest first.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.token = ""
	s.refreshToken = ""
	s.userID = ""
	hooks := make([]func(), len(s.onSignOut))
	copy(hooks, s.onSignOut)
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// OnSignOut registers a hook, typically the store's Reset and the transport's Close.
func (s *Session) OnSignOut(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignOut = append(s.onSignOut, fn)
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Static is a fixed Provider, handy for tools and tests.
type Static struct {
	BearerToken string
	ID          string
}

func (s Static) Token() string  { return s.BearerToken }
func (s Static) UserID() string { return s.ID }
