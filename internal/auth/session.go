// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package auth

import "sync"

// Session tracks the user currently signed in on this device.
// The zero value is logged out.
type Session struct {
	mu     sync.RWMutex
	userID *int64
}

func (s *Session) Login(id int64) {
	s.mu.Lock()
	s.userID = &id
	s.mu.Unlock()
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.userID = nil
	s.mu.Unlock()
}

// UserID returns a copy of the signed-in user id, or nil.
func (s *Session) UserID() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == nil {
		return nil
	}
	id := *s.userID
	return &id
}
