// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package posture

import (
	"math"
	"time"
)

// Source is anything that can provide poses over time.
type Source interface {
	Next() (Pose, error)
}

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a source that tilts a synthetic gravity vector
// back and forth, so the wearer slouches forward for a while every
// minute and sits up again.
func NewMockSource() Source {
	return &mockSource{start: time.Now(), now: time.Now}
}

func (m *mockSource) Next() (Pose, error) {
	elapsed := m.now().Sub(m.start).Seconds()

	// Forward lean in degrees: mostly small sway, with a slow slouch
	// cycle that peaks around 30 degrees.
	lean := 4*math.Sin(elapsed*0.9) + 30*math.Max(0, math.Sin(elapsed*2*math.Pi/60))
	side := 6 * math.Sin(elapsed*0.37)

	leanRad := lean * math.Pi / 180
	sideRad := side * math.Pi / 180

	ax := -math.Sin(leanRad)
	ay := math.Cos(leanRad) * math.Sin(sideRad)
	az := math.Cos(leanRad) * math.Cos(sideRad)

	return Tilt(ax, ay, az), nil
}
