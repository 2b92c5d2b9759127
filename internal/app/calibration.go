// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errCalibrationCancelled = errors.New("calibration cancelled")
	errCalibrationClosed    = errors.New("connection closed")
	errCalibrationTimeout   = errors.New("sensor did not finish calibrating in time")
)

// CalibrationTiming controls the guided calibration flow.
type CalibrationTiming struct {
	Countdown int           // countdown steps before the sensor is told to calibrate
	Step      time.Duration // length of one countdown step
	Timeout   time.Duration // how long to wait for the sensor to finish
	Check     time.Duration // how often the latest reading is inspected
}

var DefaultCalibrationTiming = CalibrationTiming{
	Countdown: 5,
	Step:      time.Second,
	Timeout:   30 * time.Second,
	Check:     250 * time.Millisecond,
}

// CalibrationMessage is sent by the client: "start" or "cancel".
type CalibrationMessage struct {
	Action string `json:"action"`
}

// CalibrationResponse is sent to the client. Type is one of countdown,
// calibrating, complete, cancelled or error.
type CalibrationResponse struct {
	Type      string  `json:"type"`
	Remaining int     `json:"remaining,omitempty"`
	Message   string  `json:"message,omitempty"`
	RefPitch  float64 `json:"refPitch,omitempty"`
	RefRoll   float64 `json:"refRoll,omitempty"`
}

type calibrationSession struct {
	conn     *websocket.Conn
	pipeline *Pipeline
	timing   CalibrationTiming
	actions  <-chan string
}

// HandleCalibrationWS runs the guided calibration over a websocket:
// a countdown, the remote calibrate call, then a wait until the sensor
// reports a fresh non-calibrating reading.
func (s *Server) HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	actions := make(chan string, 4)
	go func() {
		defer close(actions)
		for {
			var msg CalibrationMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			actions <- msg.Action
		}
	}()

	session := &calibrationSession{
		conn:     conn,
		pipeline: s.pipeline,
		timing:   s.calibration,
		actions:  actions,
	}

	for action := range actions {
		switch action {
		case "start":
			err := session.run(r.Context())
			switch {
			case err == nil:
			case errors.Is(err, errCalibrationClosed):
				return
			case errors.Is(err, errCalibrationCancelled):
				log.Printf("calibration: cancelled by user")
				session.send(CalibrationResponse{Type: "cancelled"})
			default:
				log.Printf("calibration: %v", err)
				session.sendError(err.Error())
			}
		case "cancel":
			// nothing in progress
		default:
			session.sendError("unknown action: " + action)
		}
	}
}

func (s *calibrationSession) run(ctx context.Context) error {
	for n := s.timing.Countdown; n > 0; n-- {
		s.send(CalibrationResponse{Type: "countdown", Remaining: n})
		if err := s.wait(s.timing.Step); err != nil {
			return err
		}
	}

	start := time.Now().Truncate(time.Millisecond)
	if err := s.pipeline.Calibrate(ctx); err != nil {
		return err
	}
	s.send(CalibrationResponse{Type: "calibrating"})

	deadline := time.Now().Add(s.timing.Timeout)
	var (
		sawCalibrating bool
		fresh          int
		lastStamp      string
	)
	for time.Now().Before(deadline) {
		if err := s.wait(s.timing.Check); err != nil {
			return err
		}
		r, ok := s.pipeline.Latest()
		if !ok || r.Time().Before(start) || r.Timestamp == lastStamp {
			continue
		}
		lastStamp = r.Timestamp
		fresh++
		if r.Calibrating {
			sawCalibrating = true
			continue
		}
		// A sensor that finishes between two polls never reports calibrating.
		if sawCalibrating || fresh >= 2 {
			log.Printf("calibration: complete, reference pitch=%.2f roll=%.2f", r.RefPitch, r.RefRoll)
			s.send(CalibrationResponse{Type: "complete", RefPitch: r.RefPitch, RefRoll: r.RefRoll})
			return nil
		}
	}
	return errCalibrationTimeout
}

// wait sleeps for d while watching for a cancel or a closed connection.
func (s *calibrationSession) wait(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case action, ok := <-s.actions:
			if !ok {
				return errCalibrationClosed
			}
			if action == "cancel" {
				return errCalibrationCancelled
			}
		case <-timer.C:
			return nil
		}
	}
}

func (s *calibrationSession) send(resp CalibrationResponse) {
	if err := s.conn.WriteJSON(resp); err != nil {
		log.Printf("calibration: websocket write error: %v", err)
	}
}

func (s *calibrationSession) sendError(msg string) {
	s.send(CalibrationResponse{Type: "error", Message: msg})
}
