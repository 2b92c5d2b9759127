// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"time"

	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

// Record is one persisted reading.
type Record struct {
	ID          int64   `json:"id"`
	Fecha       string  `json:"fecha"`
	Pitch       float64 `json:"pitch"`
	Roll        float64 `json:"roll"`
	RefPitch    float64 `json:"refPitch"`
	RefRoll     float64 `json:"refRoll"`
	MalaPostura int     `json:"malaPostura"`
	UserID      *int64  `json:"userId"`
}

// Time parses Fecha.
func (r Record) Time() time.Time {
	return sensor.Reading{Timestamp: r.Fecha}.Time()
}

func (r Record) Bad() bool { return r.MalaPostura == 1 }

// FromReading converts an accepted reading into a Record owned by userID.
func FromReading(rd sensor.Reading, userID *int64) Record {
	bad := 0
	if rd.MalaPostura == 1 {
		bad = 1
	}
	return Record{
		Fecha:       rd.Timestamp,
		Pitch:       rd.Pitch,
		Roll:        rd.Roll,
		RefPitch:    rd.RefPitch,
		RefRoll:     rd.RefRoll,
		MalaPostura: bad,
		UserID:      userID,
	}
}

// User is a row of the usuarios table.
type User struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	Password        string `json:"-"`
	Salt            string `json:"-"`
	Nombre          string `json:"nombre"`
	Apellido        string `json:"apellido"`
	FechaNacimiento string `json:"fechaNacimiento"`
	Genero          string `json:"genero"`
	AlturaCm        string `json:"alturaCm"`
	PesoKg          string `json:"pesoKg"`
	PorcMusculo     string `json:"porcMusculo"`
	PorcGrasa       string `json:"porcGrasa"`
	UserIcon        string `json:"userIcon"`
}

// Range is a half-open time window [From, To). A zero bound is open.
type Range struct {
	From time.Time
	To   time.Time
}

// All matches every record.
func All() Range { return Range{} }

// Today covers the calendar day of now in now's location.
func Today(now time.Time) Range {
	start := startOfDay(now)
	return Range{From: start, To: start.AddDate(0, 0, 1)}
}

// LastDays covers the last n calendar days including today.
func LastDays(now time.Time, n int) Range {
	start := startOfDay(now)
	return Range{From: start.AddDate(0, 0, -(n - 1)), To: start.AddDate(0, 0, 1)}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
