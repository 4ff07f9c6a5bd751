package checkout

import (
	"context"
	"sync/atomic"
)

// SessionFlag is an in-process session marker. Authorize marks it
// authenticated; credential checks belong to the caller.
type SessionFlag struct {
	authenticated atomic.Bool
}

func (s *SessionFlag) Authenticated(context.Context) bool {
	return s.authenticated.Load()
}

func (s *SessionFlag) Authorize(context.Context) error {
	s.authenticated.Store(true)
	return nil
}

// SignOut marks the session unauthenticated.
func (s *SessionFlag) SignOut() {
	s.authenticated.Store(false)
}
