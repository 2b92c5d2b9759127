// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package posture

import (
	"math"

	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

// Pose is a pitch/roll pair in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Assessment holds the values derived from a valid reading.
type Assessment struct {
	Correct   bool    `json:"posturaCorrecta"`
	Deviation float64 `json:"desviacion"`
}

// Assess derives posture correctness and angular deviation.
func Assess(r sensor.Reading) Assessment {
	return Assessment{
		Correct:   r.MalaPostura == 0,
		Deviation: Deviation(r.Pitch, r.Roll, r.RefPitch, r.RefRoll),
	}
}

// Deviation is the sum of absolute per-axis deviation from the reference,
// in degrees. It is zero only when both axes match exactly.
func Deviation(pitch, roll, refPitch, refRoll float64) float64 {
	return math.Abs(pitch-refPitch) + math.Abs(roll-refRoll)
}

// Tilt computes pitch and roll from an accelerometer vector (any unit):
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func Tilt(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Pitch: pitchRad * 180.0 / math.Pi,
		Roll:  rollRad * 180.0 / math.Pi,
	}
}
