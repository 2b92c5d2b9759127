// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for reading timestamps.
// Always UTC with millisecond precision so stored values sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var ErrMalformed = errors.New("malformed sensor payload")

// Reading is one sample returned by the posture sensor.
type Reading struct {
	Pitch       float64 `json:"pitch"`
	Roll        float64 `json:"roll"`
	RefPitch    float64 `json:"refPitch"`
	RefRoll     float64 `json:"refRoll"`
	MalaPostura int     `json:"malaPostura"` // 1 = bad posture
	Calibrating bool    `json:"calibrating"`
	Timestamp   string  `json:"timestamp"`
}

// Bad reports whether the sensor flagged bad posture.
func (r Reading) Bad() bool { return r.MalaPostura == 1 }

// Time parses Timestamp. The zero time is returned when it cannot be parsed.
func (r Reading) Time() time.Time {
	t, err := time.Parse(TimestampLayout, r.Timestamp)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

// FormatTimestamp renders t the way readings are stamped.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// payload mirrors the JSON body of GET /data. Pointers tell missing
// fields apart from zero values.
type payload struct {
	Pitch       *float64 `json:"pitch"`
	Roll        *float64 `json:"roll"`
	RefPitch    *float64 `json:"refPitch"`
	RefRoll     *float64 `json:"refRoll"`
	MalaPostura *int     `json:"malaPostura"`
	Calibrating *int     `json:"calibrating"`
}

// Decode parses a /data body into a Reading stamped with ts.
//
// A body with calibrating=1 is accepted even when the angle fields are
// missing, since the sensor does not report meaningful angles in that
// state. Any other shape mismatch fails with ErrMalformed.
func Decode(body []byte, ts time.Time) (Reading, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if p.Calibrating != nil && *p.Calibrating != 0 && *p.Calibrating != 1 {
		return Reading{}, fmt.Errorf("%w: calibrating must be 0 or 1, got %d", ErrMalformed, *p.Calibrating)
	}

	r := Reading{
		Calibrating: p.Calibrating != nil && *p.Calibrating == 1,
		Timestamp:   FormatTimestamp(ts),
	}
	if r.Calibrating {
		r.Pitch = deref(p.Pitch)
		r.Roll = deref(p.Roll)
		r.RefPitch = deref(p.RefPitch)
		r.RefRoll = deref(p.RefRoll)
		if p.MalaPostura != nil {
			r.MalaPostura = *p.MalaPostura
		}
		return r, nil
	}

	fields := []struct {
		name string
		v    *float64
		dst  *float64
	}{
		{"pitch", p.Pitch, &r.Pitch},
		{"roll", p.Roll, &r.Roll},
		{"refPitch", p.RefPitch, &r.RefPitch},
		{"refRoll", p.RefRoll, &r.RefRoll},
	}
	for _, f := range fields {
		if f.v == nil {
			return Reading{}, fmt.Errorf("%w: missing %s", ErrMalformed, f.name)
		}
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
			return Reading{}, fmt.Errorf("%w: %s is not finite", ErrMalformed, f.name)
		}
		*f.dst = *f.v
	}

	if p.MalaPostura == nil {
		return Reading{}, fmt.Errorf("%w: missing malaPostura", ErrMalformed)
	}
	if *p.MalaPostura != 0 && *p.MalaPostura != 1 {
		return Reading{}, fmt.Errorf("%w: malaPostura must be 0 or 1, got %d", ErrMalformed, *p.MalaPostura)
	}
	r.MalaPostura = *p.MalaPostura

	return r, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
