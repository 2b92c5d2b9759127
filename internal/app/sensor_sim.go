// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relabs-tech/posture_monitor/internal/config"
	"github.com/relabs-tech/posture_monitor/internal/posture"
)

const (
	simCalibrationTime = 3 * time.Second
	simBadThreshold    = 15.0 // degrees of deviation
)

// simPayload is the body of GET /data as the sensor firmware sends it.
type simPayload struct {
	Pitch       *float64 `json:"pitch,omitempty"`
	Roll        *float64 `json:"roll,omitempty"`
	RefPitch    *float64 `json:"refPitch,omitempty"`
	RefRoll     *float64 `json:"refRoll,omitempty"`
	MalaPostura int      `json:"malaPostura"`
	Calibrating int      `json:"calibrating"`
}

// Simulator stands in for the wearable sensor. It calibrates on start
// and whenever /calibrate is hit, adopting the pose at the end of the
// calibration window as the reference.
type Simulator struct {
	src          posture.Source
	now          func() time.Time
	calibrateFor time.Duration

	mu       sync.Mutex
	ref      posture.Pose
	calUntil time.Time
	hasRef   bool
}

func NewSimulator(src posture.Source, calibrateFor time.Duration) *Simulator {
	if calibrateFor <= 0 {
		calibrateFor = simCalibrationTime
	}
	s := &Simulator{src: src, now: time.Now, calibrateFor: calibrateFor}
	s.Calibrate()
	return s
}

// Calibrate starts a calibration window.
func (s *Simulator) Calibrate() {
	s.mu.Lock()
	s.calUntil = s.now().Add(s.calibrateFor)
	s.hasRef = false
	s.mu.Unlock()
	log.Printf("sim: calibrating for %s", s.calibrateFor)
}

// Sample returns the current sensor payload.
func (s *Simulator) Sample() (simPayload, error) {
	pose, err := s.src.Next()
	if err != nil {
		return simPayload{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasRef {
		if s.now().Before(s.calUntil) {
			return simPayload{Calibrating: 1}, nil
		}
		s.ref = pose
		s.hasRef = true
		log.Printf("sim: reference set to pitch=%.2f roll=%.2f", pose.Pitch, pose.Roll)
	}

	ref := s.ref
	p := simPayload{
		Pitch:    &pose.Pitch,
		Roll:     &pose.Roll,
		RefPitch: &ref.Pitch,
		RefRoll:  &ref.Roll,
	}
	if posture.Deviation(pose.Pitch, pose.Roll, ref.Pitch, ref.Roll) > simBadThreshold {
		p.MalaPostura = 1
	}
	return p, nil
}

// Handler serves the sensor's HTTP surface.
func (s *Simulator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/data", func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Sample()
		if err != nil {
			respondError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, p, http.StatusOK)
	})
	r.Get("/calibrate", func(w http.ResponseWriter, r *http.Request) {
		s.Calibrate()
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "calibrating")
	})
	return r
}

// RunSensorSim serves a simulated sensor on SIM_PORT.
func RunSensorSim(cfg *config.Config) error {
	sim := NewSimulator(posture.NewMockSource(), simCalibrationTime)

	addr := fmt.Sprintf(":%d", cfg.SimPort)
	log.Printf("sim: sensor listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
