// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package posture

import (
	"math"

	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

// Outcome is the classification of a single reading.
type Outcome int

const (
	NotReady Outcome = iota
	Calibrating
	Valid
)

func (o Outcome) String() string {
	switch o {
	case NotReady:
		return "not_ready"
	case Calibrating:
		return "calibrating"
	case Valid:
		return "valid"
	default:
		return "unknown"
	}
}

// Classifier tracks whether readings may be persisted.
//
// Readiness turns on at the first valid reading seen after calibration
// and stays on until the sensor reports calibrating again. NotReady
// readings leave it untouched. The zero value is ready for use and
// starts not ready.
type Classifier struct {
	ready bool
}

// Classify returns the outcome for r and updates readiness.
func (c *Classifier) Classify(r *sensor.Reading) Outcome {
	if r == nil {
		return NotReady
	}
	if r.Calibrating {
		c.ready = false
		return Calibrating
	}
	for _, v := range []float64{r.Pitch, r.Roll, r.RefPitch, r.RefRoll} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NotReady
		}
	}
	if r.MalaPostura != 0 && r.MalaPostura != 1 {
		return NotReady
	}

	c.ready = true
	return Valid
}

// Ready reports whether valid readings are currently eligible for
// buffering.
func (c *Classifier) Ready() bool {
	return c.ready
}
