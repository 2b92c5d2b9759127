// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package batch

import "fmt"

// AppState is the foreground state reported by the hosting app.
type AppState string

const (
	StateActive     AppState = "active"
	StateInactive   AppState = "inactive"
	StateBackground AppState = "background"
)

// ParseAppState validates a state name.
func ParseAppState(s string) (AppState, error) {
	switch st := AppState(s); st {
	case StateActive, StateInactive, StateBackground:
		return st, nil
	default:
		return "", fmt.Errorf("unknown app state %q", s)
	}
}

// Suspending reports whether the app may be suspended in this state.
func (s AppState) Suspending() bool {
	return s == StateInactive || s == StateBackground
}
