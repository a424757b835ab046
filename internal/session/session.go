// Package session holds the run-scoped identity that ties the advertised
// debugging target to the frontend connections allowed to attach to it.
package session

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// Session is created once at startup and never changes afterwards.
type Session struct {
	id string
}

// NewSession generates a fresh random session identifier.
func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Matches reports whether targetID is this session's identifier.
func (s *Session) Matches(targetID string) bool {
	return subtle.ConstantTimeCompare([]byte(s.id), []byte(targetID)) == 1
}
